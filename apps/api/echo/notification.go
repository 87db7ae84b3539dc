package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/roomly/core/notification"
	"github.com/trezcool/roomly/core/user"
)

type notificationApi struct {
	svc    notification.Service
	usrSvc user.Service
}

// registerNotificationAPI exposes the caller's own notifications; there is no way to reach another user's.
func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := notificationApi{
		svc:    deps.NotificationSvc,
		usrSvc: deps.UserSvc,
	}

	ng := g.Group("/notifications", jwt)
	ng.GET("", api.query)
	ng.POST("/read", api.markRead)
	ng.POST("/read-all", api.markAllRead)
	ng.DELETE("", api.destroy)
}

func (api *notificationApi) query(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	unread, err := queryBool(ctx, "unread")
	if err != nil {
		return err
	}

	notifs, err := api.svc.List(ctx.Request().Context(), ctxUsr, unread != nil && *unread)
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}
	if notifs == nil {
		notifs = []notification.Notification{}
	}
	return ctx.JSON(http.StatusOK, notifs)
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	var data IDsRequest
	if err := ctx.Bind(&data); err != nil {
		return err
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if len(data.IDs) == 0 {
		return ctx.JSON(http.StatusOK, CountResponse{})
	}

	n, err := api.svc.MarkRead(ctx.Request().Context(), ctxUsr, data.IDs...)
	if err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

func (api *notificationApi) markAllRead(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	n, err := api.svc.MarkAllRead(ctx.Request().Context(), ctxUsr)
	if err != nil {
		return errors.Wrap(err, "marking all notifications read")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

// destroy deletes the notifications given as `?id=`, or all of them without any.
func (api *notificationApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if _, err = api.svc.Delete(ctx.Request().Context(), ctxUsr, queryList(ctx, "id")...); err != nil {
		return errors.Wrap(err, "deleting notifications")
	}
	return ctx.NoContent(http.StatusNoContent)
}
