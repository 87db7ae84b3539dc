package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/billing"
	"github.com/trezcool/roomly/core/organization"
	"github.com/trezcool/roomly/core/room"
	"github.com/trezcool/roomly/core/user"
)

var errOrgNotFoundInCtx = errors.New("organization object not found in echo.Context")

type organizationApi struct {
	svc        organization.Service
	billingSvc billing.Service
	usrSvc     user.Service
	validate   *validator.Validate
}

func registerOrganizationAPI(g *echo.Group, jwt, optJWT echo.MiddlewareFunc, deps ServerDeps) {
	api := organizationApi{
		svc:        deps.OrganizationSvc,
		billingSvc: deps.BillingSvc,
		usrSvc:     deps.UserSvc,
		validate:   deps.Validate,
	}

	og := g.Group("/organizations")
	og.GET("", api.query, optJWT)
	og.POST("", api.create, jwt)

	// detail endpoints
	obj := api.objectMiddleware
	og.GET("/:id", api.retrieve, optJWT, obj)
	og.PUT("/:id", api.update, jwt, obj)
	og.DELETE("/:id", api.destroy, jwt, adminMiddleware())
	og.GET("/:id/members", api.members, jwt, obj)
	og.POST("/:id/members", api.addMember, jwt, obj)
	og.DELETE("/:id/members/:userId", api.removeMember, jwt, obj)
	og.GET("/:id/billing/summary", api.billingSummary, jwt, obj)
	og.GET("/:id/payments", api.payments, jwt, obj)
	og.POST("/:id/payments", api.recordPayment, jwt, adminMiddleware())
}

// Handlers

func (api *organizationApi) create(ctx echo.Context) error {
	var data organization.NewOrganization
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	org, err := api.svc.Create(ctx.Request().Context(), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "creating organization")
	}
	return ctx.JSON(http.StatusCreated, org)
}

// query lists organizations. Only admins see inactive ones.
func (api *organizationApi) query(ctx echo.Context) error {
	ctxUsr, err := getOptionalContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	isActive, err := queryBool(ctx, "is_active")
	if err != nil {
		return err
	}
	if ctxUsr == nil || !ctxUsr.IsAdmin() {
		active := true
		isActive = &active
	}

	filter := &organization.QueryFilter{
		Search:   ctx.QueryParam("search"),
		City:     ctx.QueryParam("city"),
		IsActive: isActive,
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	orgs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying organizations")
	}
	if orgs == nil {
		orgs = []organization.Organization{}
	}
	return ctx.JSON(http.StatusOK, orgs)
}

func (api *organizationApi) retrieve(ctx echo.Context) error {
	org, ok := ctx.Get("object").(organization.Organization)
	if !ok {
		return errOrgNotFoundInCtx
	}
	return ctx.JSON(http.StatusOK, org)
}

func (api *organizationApi) update(ctx echo.Context) error {
	org, ok := ctx.Get("object").(organization.Organization)
	if !ok {
		return errOrgNotFoundInCtx
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}

	var data organization.UpdateOrganization
	if err = ctx.Bind(&data); err != nil {
		return err
	}
	if err = data.Validate(ctx.Request().Context(), org, api.validate, api.svc); err != nil {
		return err
	}

	if org, err = api.svc.Update(ctx.Request().Context(), org, data, ctxUsr); err != nil {
		return errors.Wrap(err, "updating organization")
	}
	return ctx.JSON(http.StatusOK, org)
}

func (api *organizationApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), ctx.Param("id"), ctxUsr); err != nil {
		return errors.Wrap(err, "deleting organization")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *organizationApi) members(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	users, err := api.svc.Members(ctx.Request().Context(), ctx.Param("id"), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "querying members")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *organizationApi) addMember(ctx echo.Context) error {
	var data MemberRequest
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}

	usr, err := api.svc.AddMember(ctx.Request().Context(), ctx.Param("id"), data.UserID, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "adding member")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *organizationApi) removeMember(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if _, err = api.svc.RemoveMember(ctx.Request().Context(), ctx.Param("id"), ctx.Param("userId"), ctxUsr); err != nil {
		return errors.Wrap(err, "removing member")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *organizationApi) billingSummary(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	summary, err := api.billingSvc.Summary(ctx.Request().Context(), ctx.Param("id"), ctx.QueryParam("month"), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "summarizing bookings")
	}
	return ctx.JSON(http.StatusOK, summary)
}

func (api *organizationApi) payments(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	payments, err := api.billingSvc.Payments(ctx.Request().Context(), ctx.Param("id"), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "querying payments")
	}
	if payments == nil {
		payments = []billing.Payment{}
	}
	return ctx.JSON(http.StatusOK, payments)
}

func (api *organizationApi) recordPayment(ctx echo.Context) error {
	var data billing.NewPayment
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

	payment, err := api.billingSvc.RecordPayment(ctx.Request().Context(), ctx.Param("id"), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "recording payment")
	}
	return ctx.JSON(http.StatusCreated, payment)
}

// objectMiddleware puts the organization in the context. Inactive organizations are only visible to their staff & admins.
func (api *organizationApi) objectMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		ctxUsr, err := getOptionalContextUser(ctx, api.usrSvc)
		if err != nil {
			return err
		}
		org, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if core.IsNotFound(err) {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding organization by ID")
		}
		if !org.IsActive && !room.IsStaff(ctxUsr, org.ID) {
			return errHttpNotFound
		}
		ctx.Set("object", org)
		return next(ctx)
	}
}

type MemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}
