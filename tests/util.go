// Package testutil prepares databases, services and fixtures for tests.
package testutil

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/booking"
	"github.com/trezcool/roomly/core/organization"
	"github.com/trezcool/roomly/core/room"
	"github.com/trezcool/roomly/core/user"
	logsvc "github.com/trezcool/roomly/services/logger"
	"github.com/trezcool/roomly/storage/database"
)

// DefaultPassword satisfies the password policy.
const DefaultPassword = "Roomly#2021"

// NewConfig returns the TEST configuration, with a SQLite database and a media directory
// in a temporary directory removed at the end of the test.
func NewConfig(t *testing.T) *core.Config {
	t.Helper()
	if err := os.Setenv("ENV", "TEST"); err != nil {
		t.Fatalf("setting ENV: %v", err)
	}
	conf := core.NewConfig()
	dir := t.TempDir()
	conf.Database.Engine = database.EngineSQLite
	conf.Database.Path = filepath.Join(dir, "roomly.db")
	conf.MediaDir = filepath.Join(dir, "media")
	return conf
}

// NewLogger returns a logger writing nowhere. Rollbar is disabled in TEST.
func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
}

// NewValidator returns a validator with all custom validators registered.
func NewValidator() *validator.Validate {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	organization.InitValidators(validate, translator)
	booking.InitValidators(validate, translator)
	return validate
}

// PrepareDB opens & migrates the configured test database. It is closed at the end of the test.
func PrepareDB(t *testing.T, conf *core.Config) *sqlx.DB {
	t.Helper()
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	goose.SetLogger(goose.NopLogger())
	if err = database.Migrate(db); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateOrganization creates an active organization owned by owner, who becomes its provider:owner.
// The subscription is due in dueIn.
func CreateOrganization(
	t *testing.T,
	repo organization.Repository,
	usrRepo user.Repository,
	name, slug string,
	owner *user.User,
	dueIn time.Duration,
) organization.Organization {
	t.Helper()
	now := time.Now().UTC()
	org := organization.Organization{
		Name:                 name,
		Slug:                 slug,
		City:                 "Kinshasa",
		IsActive:             true,
		Plan:                 organization.PlanMonthly,
		PaymentDueDate:       now.Add(dueIn),
		PaymentExtensionDate: now.Add(dueIn).Add(30 * 24 * time.Hour),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if owner != nil {
		org.OwnerID = owner.ID
	}
	org, err := repo.CreateOrganization(context.Background(), org)
	if err != nil {
		t.Fatalf("CreateOrganization() failed: %v", err)
	}

	if owner != nil {
		owner.OrganizationID = org.ID
		owner.Roles = append(owner.Roles, user.RoleProviderOwner)
		if *owner, err = usrRepo.UpdateUser(context.Background(), *owner); err != nil {
			t.Fatalf("CreateOrganization() failed: %v", err)
		}
	}
	return org
}

// CreateRoom creates an active room open from 08:00 to 18:00.
func CreateRoom(t *testing.T, repo room.Repository, orgID, name string, capacity int, hourlyRate string) room.Room {
	t.Helper()
	now := time.Now().UTC()
	rm, err := repo.CreateRoom(context.Background(), room.Room{
		OrganizationID: orgID,
		Name:           name,
		Capacity:       capacity,
		HourlyRate:     decimal.RequireFromString(hourlyRate),
		OpensAt:        booking.MustParseMinute("08:00"),
		ClosesAt:       booking.MustParseMinute("18:00"),
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("CreateRoom() failed: %v", err)
	}
	return rm
}

// CreateBooking inserts a booking as is, bypassing the availability checks.
func CreateBooking(t *testing.T, repo booking.Repository, rm room.Room, userID, date, start, end, status string) booking.Booking {
	t.Helper()
	now := time.Now().UTC()
	b := booking.Booking{
		RoomID:         rm.ID,
		OrganizationID: rm.OrganizationID,
		UserID:         userID,
		Date:           date,
		Start:          booking.MustParseMinute(start),
		End:            booking.MustParseMinute(end),
		Attendees:      1,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	b.TotalPrice = rm.HourlyRate.Mul(b.Hours()).Round(2)
	b, err := repo.CreateBooking(context.Background(), b)
	if err != nil {
		t.Fatalf("CreateBooking() failed: %v", err)
	}
	return b
}

// Date returns the date days from today, as YYYY-MM-DD.
func Date(days int) string {
	return time.Now().AddDate(0, 0, days).Format(booking.DateLayout)
}
