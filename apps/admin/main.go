package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/billing"
	"github.com/trezcool/roomly/core/notification"
	"github.com/trezcool/roomly/core/user"
	emailsvc "github.com/trezcool/roomly/services/email"
	logsvc "github.com/trezcool/roomly/services/logger"
	"github.com/trezcool/roomly/storage/database"
	"github.com/trezcool/roomly/storage/database/sqlxrepos"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	core.ParseEmailTemplates(conf, logger)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	if err = db.Ping(); err != nil {
		logger.Fatal(fmt.Sprintf("pinging database: %v", err), err)
	}

	mailSvc := emailsvc.NewService(conf, logger)
	usrRepo := sqlxrepos.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	notifSvc := notification.NewService(sqlxrepos.NewNotificationRepository(db), mailSvc)

	// start CLI
	cli := commandLine{
		db:      db,
		usrRepo: usrRepo,
		billingSvc: billing.NewService(billing.ServiceDeps{
			DB:          db,
			Repo:        sqlxrepos.NewPaymentRepository(db),
			OrgRepo:     sqlxrepos.NewOrganizationRepository(db),
			BookingRepo: sqlxrepos.NewBookingRepository(db),
			UserSvc:     usrSvc,
			NotifSvc:    notifSvc,
			MailSvc:     mailSvc,
			Config:      conf,
			Logger:      logger,
		}),
		out: os.Stdout,
	}
	err = cli.run(context.Background(), os.Args)
	if err != nil && err != errHelp {
		logger.Error(fmt.Sprintf("admin: %v", err), err)
	}

	_ = db.Close()
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
