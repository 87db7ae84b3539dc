package billing

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/organization"
)

// MonthLayout is the layout of summary months.
const MonthLayout = "2006-01"

// Subscription statuses
const (
	StatusTrialing = "trialing"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusExpired  = "expired"
)

// SubscriptionStatus returns the state of the organization's subscription at the given time.
// An organization keeps working until its payment extension date, after which it expires.
func SubscriptionStatus(org organization.Organization, now time.Time) string {
	switch {
	case now.Before(org.PaymentDueDate):
		if org.Plan == organization.PlanTrial {
			return StatusTrialing
		}
		return StatusActive
	case now.Before(org.PaymentExtensionDate):
		return StatusPastDue
	default:
		return StatusExpired
	}
}

type Payment struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Plan           string          `json:"plan"`
	Amount         decimal.Decimal `json:"amount"`
	PaidAt         time.Time       `json:"paid_at"`      // UTC
	PeriodStart    time.Time       `json:"period_start"` // UTC
	PeriodEnd      time.Time       `json:"period_end"`   // UTC
}

// NewPayment is a manual payment entry. Amount defaults to the plan's price.
type NewPayment struct {
	Plan   string           `json:"plan" validate:"required,oneof=monthly yearly"`
	Amount *decimal.Decimal `json:"amount"`
}

func (np *NewPayment) Validate(validate *validator.Validate) error {
	np.Plan = core.CleanString(np.Plan, true /* lower */)
	if err := validate.Struct(np); err != nil {
		return err
	}
	if np.Amount != nil && !np.Amount.IsPositive() {
		return core.NewValidationError(nil, core.FieldError{Field: "amount", Error: "must be positive"})
	}
	return nil
}

// Summary aggregates an organization's confirmed bookings over a month.
type Summary struct {
	OrganizationID     string          `json:"organization_id"`
	Month              string          `json:"month"` // YYYY-MM
	Currency           string          `json:"currency"`
	SubscriptionStatus string          `json:"subscription_status"`
	PaymentDueDate     time.Time       `json:"payment_due_date"`
	Bookings           int             `json:"bookings"`
	Hours              decimal.Decimal `json:"hours"`
	Revenue            decimal.Decimal `json:"revenue"`
	Rooms              []RoomSummary   `json:"rooms"`
}

type RoomSummary struct {
	RoomID   string          `json:"room_id"`
	Name     string          `json:"name"`
	Bookings int             `json:"bookings"`
	Hours    decimal.Decimal `json:"hours"`
	Revenue  decimal.Decimal `json:"revenue"`
}
