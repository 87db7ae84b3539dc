package billing_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/billing"
	"github.com/trezcool/roomly/core/booking"
	"github.com/trezcool/roomly/core/notification"
	"github.com/trezcool/roomly/core/organization"
	"github.com/trezcool/roomly/core/room"
	"github.com/trezcool/roomly/core/user"
	emailsvc "github.com/trezcool/roomly/services/email"
	"github.com/trezcool/roomly/storage/database/sqlxrepos"
	"github.com/trezcool/roomly/tests"
)

const day = 24 * time.Hour

func TestSubscriptionStatus(t *testing.T) {
	now := time.Date(2021, 3, 15, 12, 0, 0, 0, time.UTC)
	org := func(plan string, dueIn time.Duration) organization.Organization {
		return organization.Organization{
			Plan:                 plan,
			PaymentDueDate:       now.Add(dueIn),
			PaymentExtensionDate: now.Add(dueIn + 30*day),
		}
	}
	tests := []struct {
		name string
		org  organization.Organization
		want string
	}{
		{name: "trial", org: org(organization.PlanTrial, day), want: billing.StatusTrialing},
		{name: "paid", org: org(organization.PlanMonthly, day), want: billing.StatusActive},
		{name: "due now", org: org(organization.PlanMonthly, 0), want: billing.StatusPastDue},
		{name: "trial over", org: org(organization.PlanTrial, -day), want: billing.StatusPastDue},
		{name: "extension over", org: org(organization.PlanYearly, -30*day), want: billing.StatusExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, billing.SubscriptionStatus(tt.org, now))
		})
	}
}

type fixture struct {
	conf        *core.Config
	svc         billing.Service
	usrRepo     user.Repository
	orgRepo     organization.Repository
	bookingRepo booking.Repository
	roomRepo    room.Repository
	notifRepo   notification.Repository
	mailSvc     *emailsvc.ConsoleServiceMock
	admin       user.User
}

func setup(t *testing.T) *fixture {
	conf := testutil.NewConfig(t)
	logger := testutil.NewLogger(conf)
	db := testutil.PrepareDB(t, conf)
	core.ParseEmailTemplates(conf, logger)

	f := &fixture{
		conf:        conf,
		usrRepo:     sqlxrepos.NewUserRepository(db),
		orgRepo:     sqlxrepos.NewOrganizationRepository(db),
		bookingRepo: sqlxrepos.NewBookingRepository(db),
		roomRepo:    sqlxrepos.NewRoomRepository(db),
		notifRepo:   sqlxrepos.NewNotificationRepository(db),
		mailSvc:     emailsvc.NewConsoleServiceMock(conf, logger),
	}
	f.svc = billing.NewService(billing.ServiceDeps{
		DB:          db,
		Repo:        sqlxrepos.NewPaymentRepository(db),
		OrgRepo:     f.orgRepo,
		BookingRepo: f.bookingRepo,
		UserSvc:     user.NewServiceMock(f.usrRepo, f.mailSvc, conf),
		NotifSvc:    notification.NewService(f.notifRepo, f.mailSvc),
		MailSvc:     f.mailSvc,
		Config:      conf,
		Logger:      logger,
	})
	f.admin = testutil.CreateUser(t, f.usrRepo, "Admin", "admin", "admin@roomly.test", testutil.DefaultPassword, []string{user.RoleAdmin}, true)
	return f
}

func (f *fixture) createOrg(t *testing.T, slug string, dueIn time.Duration) (user.User, organization.Organization) {
	owner := testutil.CreateUser(t, f.usrRepo, slug, slug, slug+"@roomly.test", testutil.DefaultPassword, nil, true)
	org := testutil.CreateOrganization(t, f.orgRepo, f.usrRepo, slug, slug, &owner, dueIn)
	return owner, org
}

func TestRecordPayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	owner, org := f.createOrg(t, "hub", -40*day)
	org.IsActive = false
	_, err := f.orgRepo.UpdateOrganization(ctx, org)
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(ctx, org.ID, billing.NewPayment{Plan: organization.PlanMonthly}, owner)
	assert.Equal(t, core.ErrPermissionDenied, err)

	_, err = f.svc.RecordPayment(ctx, "lol", billing.NewPayment{Plan: organization.PlanMonthly}, f.admin)
	assert.True(t, core.IsNotFound(err))

	amount := decimal.RequireFromString("45.5")
	before := time.Now().UTC()
	pmt, err := f.svc.RecordPayment(ctx, org.ID, billing.NewPayment{Plan: organization.PlanMonthly, Amount: &amount}, f.admin)
	require.NoError(t, err)
	assert.True(t, amount.Equal(pmt.Amount))
	// an expired subscription restarts from the payment
	assert.False(t, pmt.PeriodStart.Before(before))
	assert.WithinDuration(t, pmt.PeriodStart.AddDate(0, 1, 0), pmt.PeriodEnd, time.Second)

	updated, err := f.orgRepo.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsActive, "reactivated")
	assert.Equal(t, organization.PlanMonthly, updated.Plan)
	assert.WithinDuration(t, pmt.PeriodEnd, updated.PaymentDueDate, time.Second)
	assert.WithinDuration(t, pmt.PeriodEnd.Add(f.conf.Billing.ExtensionDelta), updated.PaymentExtensionDate, time.Second)

	notifs, err := f.notifRepo.QueryNotifications(ctx, notification.QueryFilter{UserID: owner.ID})
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, notification.KindPaymentReceived, notifs[0].Kind)
	sent := f.mailSvc.SentMessages()
	require.Len(t, sent, 1, "one email, the receipt")
	assert.Equal(t, "Payment received", sent[0].Subject)
	require.Len(t, sent[0].Attachments, 1)
	receipt := sent[0].Attachments[0]
	assert.Equal(t, "receipt-"+pmt.ID+".csv", receipt.Filename)
	assert.Equal(t, "text/csv", receipt.ContentType)
	content, err := base64.StdEncoding.DecodeString(receipt.Content.String())
	require.NoError(t, err)
	assert.Contains(t, string(content), "payment_id,plan,amount,currency")
	assert.Contains(t, string(content), pmt.ID+",monthly,45.50,"+f.conf.Billing.Currency)

	payments, err := f.svc.Payments(ctx, org.ID, owner)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, pmt.ID, payments[0].ID)
}

func TestRecordPaymentExtendsCurrentPeriod(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, org := f.createOrg(t, "hub", 10*day)

	pmt, err := f.svc.RecordPayment(ctx, org.ID, billing.NewPayment{Plan: organization.PlanYearly}, f.admin)
	require.NoError(t, err)
	assert.WithinDuration(t, org.PaymentDueDate, pmt.PeriodStart, time.Second)
	assert.True(t, f.conf.Billing.YearlyPrice.Equal(pmt.Amount))
}

func TestSummary(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	owner, org := f.createOrg(t, "hub", 10*day)
	staff := testutil.CreateUser(t, f.usrRepo, "Staff", "staff", "staff@roomly.test", testutil.DefaultPassword, []string{user.RoleProvider}, true)
	staff.OrganizationID = org.ID
	staff, err := f.usrRepo.UpdateUser(ctx, staff)
	require.NoError(t, err)
	_, other := f.createOrg(t, "other", 10*day)

	customer := testutil.CreateUser(t, f.usrRepo, "Jane", "jane", "jane@roomly.test", testutil.DefaultPassword, []string{user.RoleCustomer}, true)
	roomA := testutil.CreateRoom(t, f.roomRepo, org.ID, "Room A", 10, "10.00")
	roomB := testutil.CreateRoom(t, f.roomRepo, org.ID, "Room B", 10, "30.00")
	elsewhere := testutil.CreateRoom(t, f.roomRepo, other.ID, "Elsewhere", 10, "100.00")

	month := "2021-03"
	testutil.CreateBooking(t, f.bookingRepo, roomA, customer.ID, "2021-03-01", "09:00", "11:00", booking.StatusConfirmed)
	testutil.CreateBooking(t, f.bookingRepo, roomA, customer.ID, "2021-03-31", "09:00", "09:30", booking.StatusConfirmed)
	testutil.CreateBooking(t, f.bookingRepo, roomB, customer.ID, "2021-03-15", "14:00", "15:00", booking.StatusConfirmed)
	testutil.CreateBooking(t, f.bookingRepo, roomB, customer.ID, "2021-03-16", "14:00", "15:00", booking.StatusCancelled)
	testutil.CreateBooking(t, f.bookingRepo, roomB, customer.ID, "2021-04-01", "14:00", "15:00", booking.StatusConfirmed)
	testutil.CreateBooking(t, f.bookingRepo, elsewhere, customer.ID, "2021-03-15", "14:00", "15:00", booking.StatusConfirmed)

	t.Run("permissions", func(t *testing.T) {
		_, err := f.svc.Summary(ctx, org.ID, month, staff)
		assert.Equal(t, core.ErrPermissionDenied, err)
		_, err = f.svc.Summary(ctx, org.ID, month, customer)
		assert.Equal(t, core.ErrPermissionDenied, err)
		_, err = f.svc.Summary(ctx, org.ID, month, f.admin)
		assert.NoError(t, err)
	})

	t.Run("invalid month", func(t *testing.T) {
		_, err := f.svc.Summary(ctx, org.ID, "2021-13", owner)
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "month", vErr.Fields[0].Field)
	})

	t.Run("aggregates confirmed bookings of the month", func(t *testing.T) {
		sum, err := f.svc.Summary(ctx, org.ID, month, owner)
		require.NoError(t, err)
		assert.Equal(t, month, sum.Month)
		assert.Equal(t, f.conf.Billing.Currency, sum.Currency)
		assert.Equal(t, 3, sum.Bookings)
		assert.Equal(t, "3.5", sum.Hours.String())
		assert.Equal(t, "55", sum.Revenue.String())

		require.Len(t, sum.Rooms, 2)
		assert.Equal(t, "Room B", sum.Rooms[0].Name, "highest revenue first")
		assert.Equal(t, 1, sum.Rooms[0].Bookings)
		assert.Equal(t, "Room A", sum.Rooms[1].Name)
		assert.Equal(t, 2, sum.Rooms[1].Bookings)
		assert.Equal(t, "2.5", sum.Rooms[1].Hours.String())
	})

	t.Run("empty month", func(t *testing.T) {
		sum, err := f.svc.Summary(ctx, org.ID, "2020-01", owner)
		require.NoError(t, err)
		assert.Zero(t, sum.Bookings)
		assert.NotNil(t, sum.Rooms)
		assert.True(t, sum.Revenue.IsZero())
	})
}

func TestSendPaymentWarningsAndDeactivateExpired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.createOrg(t, "current", 10*day)
	pastDueOwner, _ := f.createOrg(t, "pastdue", -day)
	expiredOwner, expired := f.createOrg(t, "expired", -31*day)
	now := time.Now().UTC()

	n, err := f.svc.SendPaymentWarnings(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	notifs, err := f.notifRepo.QueryNotifications(ctx, notification.QueryFilter{UserID: pastDueOwner.ID})
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, notification.KindPaymentDue, notifs[0].Kind)

	n, err = f.svc.DeactivateExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := f.orgRepo.GetOrganization(ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	notifs, err = f.notifRepo.QueryNotifications(ctx, notification.QueryFilter{UserID: expiredOwner.ID})
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, notification.KindOrganizationDeactivated, notifs[0].Kind)

	// deactivated organizations are left alone
	n, err = f.svc.DeactivateExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}
