package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/booking"
	"github.com/trezcool/roomly/core/user"
)

type bookingApi struct {
	svc      booking.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerBookingAPI(g *echo.Group, jwt, optJWT echo.MiddlewareFunc, deps ServerDeps) {
	api := bookingApi{
		svc:      deps.BookingSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	g.GET("/rooms/:id/availability", api.availability, optJWT)
	g.GET("/rooms/:id/calendar", api.calendar, optJWT)

	bg := g.Group("/bookings", jwt)
	bg.POST("", api.create)
	bg.GET("", api.query)
	bg.GET("/:id", api.retrieve)
	bg.PUT("/:id", api.reschedule)
	bg.POST("/:id/cancel", api.cancel)
}

// Handlers

// availability checks `?date=YYYY-MM-DD&start=HH:MM&end=HH:MM[&exclude=<booking id>]` against the room's bookings.
func (api *bookingApi) availability(ctx echo.Context) error {
	var flds []core.FieldError
	start, err := booking.ParseMinute(ctx.QueryParam("start"))
	if err != nil {
		flds = append(flds, core.FieldError{Field: "start", Error: err.Error()})
	}
	end, err := booking.ParseMinute(ctx.QueryParam("end"))
	if err != nil {
		flds = append(flds, core.FieldError{Field: "end", Error: err.Error()})
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	ctxUsr, err := getOptionalContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}

	av, err := api.svc.CheckAvailability(
		ctx.Request().Context(),
		ctx.Param("id"),
		ctx.QueryParam("date"),
		booking.Interval{Start: start, End: end},
		ctx.QueryParam("exclude"),
		ctxUsr,
	)
	if err != nil {
		return errors.Wrap(err, "checking availability")
	}
	return ctx.JSON(http.StatusOK, av)
}

func (api *bookingApi) calendar(ctx echo.Context) error {
	ctxUsr, err := getOptionalContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	cal, err := api.svc.Calendar(ctx.Request().Context(), ctx.Param("id"), ctx.QueryParam("date"), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "laying out calendar")
	}
	return ctx.JSON(http.StatusOK, cal)
}

func (api *bookingApi) create(ctx echo.Context) error {
	var data booking.NewBooking
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}

	b, err := api.svc.Create(ctx.Request().Context(), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "creating booking")
	}
	return ctx.JSON(http.StatusCreated, b)
}

func (api *bookingApi) query(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	filter := &booking.QueryFilter{
		RoomID:         ctx.QueryParam("room_id"),
		OrganizationID: ctx.QueryParam("organization_id"),
		UserID:         ctx.QueryParam("user_id"),
		DateFrom:       ctx.QueryParam("from"),
		DateTo:         ctx.QueryParam("to"),
		Statuses:       queryList(ctx, "status"),
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	bookings, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "querying bookings")
	}
	if bookings == nil {
		bookings = []booking.Booking{}
	}
	return ctx.JSON(http.StatusOK, bookings)
}

func (api *bookingApi) retrieve(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	b, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "getting booking")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bookingApi) reschedule(ctx echo.Context) error {
	var data booking.UpdateBooking
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}

	b, err := api.svc.Reschedule(ctx.Request().Context(), ctx.Param("id"), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "rescheduling booking")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bookingApi) cancel(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	b, err := api.svc.Cancel(ctx.Request().Context(), ctx.Param("id"), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "cancelling booking")
	}
	return ctx.JSON(http.StatusOK, b)
}
