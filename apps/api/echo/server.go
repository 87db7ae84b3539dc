package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/billing"
	"github.com/trezcool/roomly/core/booking"
	"github.com/trezcool/roomly/core/notification"
	"github.com/trezcool/roomly/core/organization"
	"github.com/trezcool/roomly/core/room"
	"github.com/trezcool/roomly/core/user"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Metrics    *Metrics

		UserSvc         user.Service
		OrganizationSvc organization.Service
		RoomSvc         room.Service
		BookingSvc      booking.Service
		NotificationSvc notification.Service
		BillingSvc      billing.Service
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Debug = conf.Debug
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.SignalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(s.deps.Metrics.middleware())

	s.app.GET("/", home)
	s.app.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	s.app.Static("/media", conf.MediaDir)

	api := s.app.Group("/api")
	jwt := middleware.JWTWithConfig(newJWTConfig(conf, false))
	optJWT := middleware.JWTWithConfig(newJWTConfig(conf, true))
	limiter := newIPRateLimiter(conf.Server.RateLimit, conf.Server.RateBurst).middleware()

	registerUserAPI(api, jwt, limiter, s.deps)
	registerOrganizationAPI(api, jwt, optJWT, s.deps)
	registerRoomAPI(api, jwt, optJWT, s.deps)
	registerBookingAPI(api, jwt, optJWT, s.deps)
	registerNotificationAPI(api, jwt, s.deps)
}

// Start blocks serving HTTP until the server is shut down. Other failures are sent to Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

// SignalShutdown asks the server's owner to shut it down gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already signaled
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Roomly API!")
}
