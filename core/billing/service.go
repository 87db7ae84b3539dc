package billing

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/mail"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/booking"
	"github.com/trezcool/roomly/core/notification"
	"github.com/trezcool/roomly/core/organization"
	"github.com/trezcool/roomly/core/user"
)

var dateFmt = "January 2, 2006"

type (
	Repository interface {
		CreatePayment(ctx context.Context, p Payment, exec ...core.DBExecutor) (Payment, error)
		// QueryPayments returns the organization's payments, latest first.
		QueryPayments(ctx context.Context, orgID string, exec ...core.DBExecutor) ([]Payment, error)
	}

	Service interface {
		// RecordPayment extends the organization's subscription by the plan's period and reactivates it.
		RecordPayment(ctx context.Context, orgID string, np NewPayment, actor user.User) (Payment, error)
		Payments(ctx context.Context, orgID string, actor user.User) ([]Payment, error)
		Summary(ctx context.Context, orgID, month string, actor user.User) (Summary, error)
		// SendPaymentWarnings notifies the owners of past due organizations and returns how many were warned.
		SendPaymentWarnings(ctx context.Context, now time.Time) (int, error)
		// DeactivateExpired deactivates expired organizations and returns how many were deactivated.
		DeactivateExpired(ctx context.Context, now time.Time) (int, error)
	}

	ServiceDeps struct {
		DB          core.DB
		Repo        Repository
		OrgRepo     organization.Repository
		BookingRepo booking.Repository
		UserSvc     user.Service
		NotifSvc    notification.Service
		MailSvc     core.EmailService
		Config      *core.Config
		Logger      core.Logger
	}

	service struct {
		db          core.DB
		repo        Repository
		orgRepo     organization.Repository
		bookingRepo booking.Repository
		usrSvc      user.Service
		notifSvc    notification.Service
		mailSvc     core.EmailService
		conf        core.BillingConfig
		logger      core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(deps ServiceDeps) Service {
	return &service{
		db:          deps.DB,
		repo:        deps.Repo,
		orgRepo:     deps.OrgRepo,
		bookingRepo: deps.BookingRepo,
		usrSvc:      deps.UserSvc,
		notifSvc:    deps.NotifSvc,
		mailSvc:     deps.MailSvc,
		conf:        deps.Config.Billing,
		logger:      deps.Logger,
	}
}

func (svc *service) RecordPayment(ctx context.Context, orgID string, np NewPayment, actor user.User) (Payment, error) {
	if !actor.IsAdmin() {
		return Payment{}, core.ErrPermissionDenied
	}

	var pmt Payment
	err := core.RunInTx(ctx, svc.db, nil, func(tx core.DBExecutor) error {
		org, err := svc.orgRepo.GetOrganization(ctx, orgID, tx)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		start := org.PaymentDueDate
		if now.After(start) {
			start = now
		}
		var (
			end    time.Time
			amount decimal.Decimal
		)
		switch np.Plan {
		case organization.PlanYearly:
			end, amount = start.AddDate(1, 0, 0), svc.conf.YearlyPrice
		default:
			end, amount = start.AddDate(0, 1, 0), svc.conf.MonthlyPrice
		}
		if np.Amount != nil {
			amount = *np.Amount
		}

		pmt = Payment{
			ID:             uuid.NewString(),
			OrganizationID: org.ID,
			Plan:           np.Plan,
			Amount:         amount.Round(2),
			PaidAt:         now,
			PeriodStart:    start,
			PeriodEnd:      end,
		}
		if pmt, err = svc.repo.CreatePayment(ctx, pmt, tx); err != nil {
			return errors.Wrap(err, "creating payment")
		}

		org.Plan = np.Plan
		org.PaymentDueDate = end
		org.PaymentExtensionDate = end.Add(svc.conf.ExtensionDelta)
		org.IsActive = true
		org.UpdatedAt = now
		_, err = svc.orgRepo.UpdateOrganization(ctx, org, tx)
		return errors.Wrap(err, "updating organization")
	})
	if err != nil {
		return Payment{}, err
	}

	const title = "Payment received"
	body := fmt.Sprintf("We received your payment of %s %s. Your subscription runs until %s.",
		pmt.Amount.StringFixed(2), svc.conf.Currency, pmt.PeriodEnd.Format(dateFmt))
	if owner, ok := svc.notifyOwner(ctx, orgID, notification.KindPaymentReceived, title, body, svc.mailSvc == nil); ok && svc.mailSvc != nil {
		svc.sendReceipt(owner, pmt, title, body)
	}
	return pmt, nil
}

type receiptData struct {
	Name  string
	Title string
	Body  string
}

// sendReceipt emails the owner the payment notice with the payment attached as CSV.
func (svc *service) sendReceipt(owner user.User, pmt Payment, title, body string) {
	if owner.Email == "" {
		return
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: owner.Name, Address: owner.Email}},
		Subject:      title,
		TemplateName: "notification",
		TemplateData: receiptData{Name: owner.Name, Title: title, Body: body},
	}
	content, err := receiptCSV(pmt, svc.conf.Currency)
	if err == nil {
		err = msg.Attach(bytes.NewReader(content), fmt.Sprintf("receipt-%s.csv", pmt.ID), "text/csv")
	}
	if err != nil {
		svc.logger.Error(fmt.Sprintf("billing.sendReceipt: %v", err), err)
	}
	svc.mailSvc.SendMessages(msg)
}

func receiptCSV(pmt Payment, currency string) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"payment_id", "plan", "amount", "currency", "paid_at", "period_start", "period_end"})
	_ = w.Write([]string{
		pmt.ID,
		pmt.Plan,
		pmt.Amount.StringFixed(2),
		currency,
		pmt.PaidAt.Format(time.RFC3339),
		pmt.PeriodStart.Format("2006-01-02"),
		pmt.PeriodEnd.Format("2006-01-02"),
	})
	w.Flush()
	return buf.Bytes(), w.Error()
}

func (svc *service) Payments(ctx context.Context, orgID string, actor user.User) ([]Payment, error) {
	if !organization.CanManage(actor, orgID) {
		return nil, core.ErrPermissionDenied
	}
	if _, err := svc.orgRepo.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	return svc.repo.QueryPayments(ctx, orgID)
}

func (svc *service) Summary(ctx context.Context, orgID, month string, actor user.User) (Summary, error) {
	if !organization.CanManage(actor, orgID) {
		return Summary{}, core.ErrPermissionDenied
	}
	first, err := time.Parse(MonthLayout, month)
	if err != nil {
		return Summary{}, core.NewValidationError(err, core.FieldError{Field: "month", Error: "invalid month, expected YYYY-MM"})
	}
	org, err := svc.orgRepo.GetOrganization(ctx, orgID)
	if err != nil {
		return Summary{}, err
	}

	bookings, err := svc.bookingRepo.QueryBookings(ctx, &booking.QueryFilter{
		OrganizationID: orgID,
		DateFrom:       first.Format(booking.DateLayout),
		DateTo:         first.AddDate(0, 1, -1).Format(booking.DateLayout),
		Statuses:       []string{booking.StatusConfirmed},
	}, nil)
	if err != nil {
		return Summary{}, errors.Wrap(err, "querying bookings")
	}

	sum := Summary{
		OrganizationID:     orgID,
		Month:              month,
		Currency:           svc.conf.Currency,
		SubscriptionStatus: SubscriptionStatus(org, time.Now().UTC()),
		PaymentDueDate:     org.PaymentDueDate,
		Hours:              decimal.Zero,
		Revenue:            decimal.Zero,
		Rooms:              []RoomSummary{},
	}
	perRoom := make(map[string]*RoomSummary)
	for _, b := range bookings {
		rs, ok := perRoom[b.RoomID]
		if !ok {
			rs = &RoomSummary{RoomID: b.RoomID, Hours: decimal.Zero, Revenue: decimal.Zero}
			if room, err := svc.bookingRepo.GetBookable(ctx, b.RoomID, false); err == nil {
				rs.Name = room.Name
			}
			perRoom[b.RoomID] = rs
		}
		rs.Bookings++
		rs.Hours = rs.Hours.Add(b.Hours())
		rs.Revenue = rs.Revenue.Add(b.TotalPrice)

		sum.Bookings++
		sum.Hours = sum.Hours.Add(b.Hours())
		sum.Revenue = sum.Revenue.Add(b.TotalPrice)
	}
	for _, rs := range perRoom {
		rs.Hours = rs.Hours.Round(2)
		sum.Rooms = append(sum.Rooms, *rs)
	}
	sort.Slice(sum.Rooms, func(i, j int) bool {
		if c := sum.Rooms[i].Revenue.Cmp(sum.Rooms[j].Revenue); c != 0 {
			return c > 0
		}
		return sum.Rooms[i].Name < sum.Rooms[j].Name
	})
	sum.Hours = sum.Hours.Round(2)
	return sum, nil
}

func (svc *service) SendPaymentWarnings(ctx context.Context, now time.Time) (int, error) {
	orgs, err := svc.activeOrganizations(ctx)
	if err != nil {
		return 0, err
	}

	var (
		warned int
		result *multierror.Error
	)
	for _, org := range orgs {
		if SubscriptionStatus(org, now) != StatusPastDue {
			continue
		}
		owner, err := svc.usrSvc.GetOrganizationOwner(ctx, org.ID)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "getting owner of %s", org.Slug))
			continue
		}
		body := fmt.Sprintf("The subscription of %s was due on %s. Please pay before %s to keep your rooms bookable.",
			org.Name, org.PaymentDueDate.Format(dateFmt), org.PaymentExtensionDate.Format(dateFmt))
		if _, err = svc.notifSvc.Notify(ctx, []user.User{owner}, notification.KindPaymentDue, "Payment due", body, true /* email */); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "notifying owner of %s", org.Slug))
			continue
		}
		warned++
	}
	return warned, result.ErrorOrNil()
}

func (svc *service) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	orgs, err := svc.activeOrganizations(ctx)
	if err != nil {
		return 0, err
	}

	var (
		deactivated int
		result      *multierror.Error
	)
	for _, org := range orgs {
		if SubscriptionStatus(org, now) != StatusExpired {
			continue
		}
		org.IsActive = false
		org.UpdatedAt = now.UTC()
		if _, err = svc.orgRepo.UpdateOrganization(ctx, org); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "deactivating %s", org.Slug))
			continue
		}
		deactivated++
		svc.notifyOwner(ctx, org.ID, notification.KindOrganizationDeactivated, "Organization deactivated",
			fmt.Sprintf("%s was deactivated because its subscription expired on %s. Its rooms cannot be booked until a payment is received.",
				org.Name, org.PaymentExtensionDate.Format(dateFmt)), true /* email */)
	}
	return deactivated, result.ErrorOrNil()
}

func (svc *service) activeOrganizations(ctx context.Context) ([]organization.Organization, error) {
	active := true
	orgs, err := svc.orgRepo.QueryOrganizations(ctx, &organization.QueryFilter{IsActive: &active}, nil)
	return orgs, errors.Wrap(err, "querying active organizations")
}

// notifyOwner reports whether the owner was found.
func (svc *service) notifyOwner(ctx context.Context, orgID, kind, title, body string, email bool) (user.User, bool) {
	owner, err := svc.usrSvc.GetOrganizationOwner(ctx, orgID)
	if err != nil {
		if !core.IsNotFound(err) {
			svc.logger.Error(fmt.Sprintf("billing.notifyOwner: getting owner of %s: %v", orgID, err), err)
		}
		return user.User{}, false
	}
	if _, err = svc.notifSvc.Notify(ctx, []user.User{owner}, kind, title, body, email); err != nil {
		svc.logger.Error(fmt.Sprintf("billing.notifyOwner: %v", err), err)
	}
	return owner, true
}
