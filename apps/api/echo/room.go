package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/room"
	"github.com/trezcool/roomly/core/user"
)

const photoField = "photo"

type roomApi struct {
	svc      room.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerRoomAPI(g *echo.Group, jwt, optJWT echo.MiddlewareFunc, deps ServerDeps) {
	api := roomApi{
		svc:      deps.RoomSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	rg := g.Group("/rooms")
	rg.GET("", api.query, optJWT)
	rg.POST("", api.create, jwt)
	rg.GET("/:id", api.retrieve, optJWT)
	rg.PUT("/:id", api.update, jwt)
	rg.DELETE("/:id", api.destroy, jwt)
	rg.PUT("/:id/amenities", api.setAmenities, jwt)
	rg.POST("/:id/equipment", api.addEquipment, jwt)
	rg.DELETE("/:id/equipment/:equipmentId", api.removeEquipment, jwt)
	rg.POST("/:id/photo", api.uploadPhoto, jwt)

	ag := g.Group("/amenities")
	ag.GET("", api.queryAmenities)
	ag.POST("", api.createAmenity, jwt, adminMiddleware())
	ag.PUT("/:id", api.updateAmenity, jwt, adminMiddleware())
	ag.DELETE("/:id", api.destroyAmenity, jwt, adminMiddleware())
}

// Handlers

func (api *roomApi) create(ctx echo.Context) error {
	var data room.NewRoom
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

	rm, err := api.svc.Create(ctx.Request().Context(), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "creating room")
	}
	return ctx.JSON(http.StatusCreated, rm)
}

func (api *roomApi) query(ctx echo.Context) error {
	ctxUsr, err := getOptionalContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	minCapacity, err := queryInt(ctx, "min_capacity")
	if err != nil {
		return err
	}

	filter := &room.QueryFilter{
		OrganizationID: ctx.QueryParam("organization_id"),
		MinCapacity:    minCapacity,
		AmenityID:      ctx.QueryParam("amenity"),
		Search:         ctx.QueryParam("search"),
		City:           ctx.QueryParam("city"),
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	rooms, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "querying rooms")
	}
	if rooms == nil {
		rooms = []room.Room{}
	}
	return ctx.JSON(http.StatusOK, rooms)
}

func (api *roomApi) retrieve(ctx echo.Context) error {
	ctxUsr, err := getOptionalContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	rm, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "getting room")
	}
	return ctx.JSON(http.StatusOK, rm)
}

func (api *roomApi) update(ctx echo.Context) error {
	var data room.UpdateRoom
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

	rm, err := api.svc.Update(ctx.Request().Context(), ctx.Param("id"), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "updating room")
	}
	return ctx.JSON(http.StatusOK, rm)
}

func (api *roomApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), ctx.Param("id"), ctxUsr); err != nil {
		return errors.Wrap(err, "deleting room")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *roomApi) setAmenities(ctx echo.Context) error {
	var data AmenitiesRequest
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}

	rm, err := api.svc.SetAmenities(ctx.Request().Context(), ctx.Param("id"), data.AmenityIDs, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "setting room amenities")
	}
	return ctx.JSON(http.StatusOK, rm)
}

func (api *roomApi) addEquipment(ctx echo.Context) error {
	var data room.NewEquipment
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

	eq, err := api.svc.AddEquipment(ctx.Request().Context(), ctx.Param("id"), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "adding equipment")
	}
	return ctx.JSON(http.StatusCreated, eq)
}

func (api *roomApi) removeEquipment(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if err = api.svc.RemoveEquipment(ctx.Request().Context(), ctx.Param("id"), ctx.Param("equipmentId"), ctxUsr); err != nil {
		return errors.Wrap(err, "removing equipment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// uploadPhoto expects a multipart form with the image in the "photo" field.
func (api *roomApi) uploadPhoto(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}

	fh, err := ctx.FormFile(photoField)
	if err != nil {
		return core.NewValidationError(err, core.FieldError{Field: photoField, Error: "an image file is required"})
	}
	if fh.Size > room.MaxPhotoSize {
		return core.NewValidationError(nil, core.FieldError{Field: photoField, Error: "the image is too large"})
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded photo")
	}
	defer f.Close()

	rm, err := api.svc.UploadPhoto(ctx.Request().Context(), ctx.Param("id"), f, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "uploading room photo")
	}
	return ctx.JSON(http.StatusOK, rm)
}

func (api *roomApi) queryAmenities(ctx echo.Context) error {
	amenities, err := api.svc.Amenities(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying amenities")
	}
	if amenities == nil {
		amenities = []room.Amenity{}
	}
	return ctx.JSON(http.StatusOK, amenities)
}

func (api *roomApi) createAmenity(ctx echo.Context) error {
	var data room.NewAmenity
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

	am, err := api.svc.CreateAmenity(ctx.Request().Context(), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "creating amenity")
	}
	return ctx.JSON(http.StatusCreated, am)
}

func (api *roomApi) updateAmenity(ctx echo.Context) error {
	var data room.NewAmenity
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

	am, err := api.svc.UpdateAmenity(ctx.Request().Context(), ctx.Param("id"), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "updating amenity")
	}
	return ctx.JSON(http.StatusOK, am)
}

func (api *roomApi) destroyAmenity(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteAmenity(ctx.Request().Context(), ctx.Param("id"), ctxUsr); err != nil {
		return errors.Wrap(err, "deleting amenity")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type AmenitiesRequest struct {
	AmenityIDs []string `json:"amenity_ids"`
}
