package dig_container

import (
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/roomly/apps/api/echo"
	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/billing"
	"github.com/trezcool/roomly/core/booking"
	"github.com/trezcool/roomly/core/notification"
	"github.com/trezcool/roomly/core/organization"
	"github.com/trezcool/roomly/core/room"
	"github.com/trezcool/roomly/core/user"
	emailsvc "github.com/trezcool/roomly/services/email"
	logsvc "github.com/trezcool/roomly/services/logger"
	"github.com/trezcool/roomly/storage/database"
	"github.com/trezcool/roomly/storage/database/sqlxrepos"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	bookingParams struct {
		dig.In
		DB       core.DB
		Repo     booking.Repository
		UserSvc  user.Service
		NotifSvc notification.Service
		Config   *core.Config
		Logger   core.Logger
		Metrics  booking.Metrics
	}

	billingParams struct {
		dig.In
		DB          core.DB
		Repo        billing.Repository
		OrgRepo     organization.Repository
		BookingRepo booking.Repository
		UserSvc     user.Service
		NotifSvc    notification.Service
		MailSvc     core.EmailService
		Config      *core.Config
		Logger      core.Logger
	}

	serverParams struct {
		dig.In
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Metrics    *echoapi.Metrics

		UserSvc         user.Service
		OrganizationSvc organization.Service
		RoomSvc         room.Service
		BookingSvc      booking.Service
		NotificationSvc notification.Service
		BillingSvc      billing.Service
	}
)

func newLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB, core.DBExecutor) {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db, db
}

// newValidator returns a validator knowing all the app's custom tags, along with its translator.
func newValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	organization.InitValidators(validate, translator)
	booking.InitValidators(validate, translator)
	return validate, translator
}

func newBookingService(p bookingParams) booking.Service {
	return booking.NewService(booking.ServiceDeps{
		DB:       p.DB,
		Repo:     p.Repo,
		UserSvc:  p.UserSvc,
		NotifSvc: p.NotifSvc,
		Config:   p.Config,
		Logger:   p.Logger,
		Metrics:  p.Metrics,
	})
}

func newBillingService(p billingParams) billing.Service {
	return billing.NewService(billing.ServiceDeps{
		DB:          p.DB,
		Repo:        p.Repo,
		OrgRepo:     p.OrgRepo,
		BookingRepo: p.BookingRepo,
		UserSvc:     p.UserSvc,
		NotifSvc:    p.NotifSvc,
		MailSvc:     p.MailSvc,
		Config:      p.Config,
		Logger:      p.Logger,
	})
}

func newBookingMetrics(m *echoapi.Metrics) booking.Metrics {
	return m
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:            p.Conf,
		Logger:          p.Logger,
		Validate:        p.Validate,
		Translator:      p.Translator,
		Metrics:         p.Metrics,
		UserSvc:         p.UserSvc,
		OrganizationSvc: p.OrganizationSvc,
		RoomSvc:         p.RoomSvc,
		BookingSvc:      p.BookingSvc,
		NotificationSvc: p.NotificationSvc,
		BillingSvc:      p.BillingSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	// ambient
	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(emailsvc.NewService))
	must(c.Provide(newValidator))
	must(c.Provide(echoapi.NewMetrics))
	must(c.Provide(newBookingMetrics))

	// repositories
	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewOrganizationRepository))
	must(c.Provide(sqlxrepos.NewRoomRepository))
	must(c.Provide(sqlxrepos.NewBookingRepository))
	must(c.Provide(sqlxrepos.NewNotificationRepository))
	must(c.Provide(sqlxrepos.NewPaymentRepository))

	// services
	must(c.Provide(user.NewService))
	must(c.Provide(organization.NewService))
	must(c.Provide(room.NewService))
	must(c.Provide(notification.NewService))
	must(c.Provide(newBookingService))
	must(c.Provide(newBillingService))

	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
