package organization

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/roomly/core"
)

// Plans
const (
	PlanTrial   = "trial"
	PlanMonthly = "monthly"
	PlanYearly  = "yearly"
)

var AllPlans = []string{PlanTrial, PlanMonthly, PlanYearly}

// Organization is a training center renting out rooms.
type Organization struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Slug                 string     `json:"slug"`
	Email                string     `json:"email"`
	Phone                string     `json:"phone"`
	Address              string     `json:"address"`
	City                 string     `json:"city"`
	Latitude             float64    `json:"latitude"`
	Longitude            float64    `json:"longitude"`
	OwnerID              string     `json:"owner_id,omitempty"`
	IsActive             bool       `json:"is_active"`
	Plan                 string     `json:"plan"`
	TrialEndsAt          *time.Time `json:"trial_ends_at,omitempty"` // UTC
	PaymentDueDate       time.Time  `json:"payment_due_date"`        // UTC
	PaymentExtensionDate time.Time  `json:"payment_extension_date"`  // UTC
	CreatedAt            time.Time  `json:"created_at"`              // UTC
	UpdatedAt            time.Time  `json:"updated_at"`              // UTC
}

// NewOrganization contains information needed to create a new Organization.
type NewOrganization struct {
	Name      string  `json:"name" validate:"required,max=255"`
	Slug      string  `json:"slug" validate:"omitempty,max=100,slug"`
	Email     string  `json:"email" validate:"omitempty,email"`
	Phone     string  `json:"phone" validate:"max=50"`
	Address   string  `json:"address" validate:"max=255"`
	City      string  `json:"city" validate:"max=100"`
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
	// OwnerID may only be set by platform admins; other creators own the organization.
	OwnerID string `json:"owner_id"`
}

func (no *NewOrganization) Validate(ctx context.Context, validate *validator.Validate, svc Service) error {
	no.Name = core.CleanString(no.Name)
	no.Slug = core.CleanString(no.Slug, true /* lower */)
	if no.Slug == "" {
		no.Slug = Slugify(no.Name)
	}
	no.Email = core.CleanString(no.Email, true /* lower */)
	no.Phone = core.CleanString(no.Phone)
	no.Address = core.CleanString(no.Address)
	no.City = core.CleanString(no.City)
	no.OwnerID = core.CleanString(no.OwnerID)

	if err := validate.Struct(no); err != nil {
		return err
	}
	return svc.CheckSlugUniqueness(ctx, no.Slug)
}

// UpdateOrganization defines what information may be provided to modify an existing Organization.
type UpdateOrganization struct {
	Name      string   `json:"name" validate:"max=255"`
	Slug      string   `json:"slug" validate:"omitempty,max=100,slug"`
	Email     string   `json:"email" validate:"omitempty,email"`
	Phone     *string  `json:"phone" validate:"omitempty,max=50"`
	Address   *string  `json:"address" validate:"omitempty,max=255"`
	City      *string  `json:"city" validate:"omitempty,max=100"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"omitempty,min=-180,max=180"`
}

func (uo *UpdateOrganization) Validate(ctx context.Context, orig Organization, validate *validator.Validate, svc Service) error {
	if name := core.CleanString(uo.Name); name != "" {
		uo.Name = name
	} else {
		uo.Name = orig.Name
	}
	if slug := core.CleanString(uo.Slug, true /* lower */); slug != "" {
		uo.Slug = slug
	} else {
		uo.Slug = orig.Slug
	}
	if email := core.CleanString(uo.Email, true /* lower */); email != "" {
		uo.Email = email
	} else {
		uo.Email = orig.Email
	}

	if err := validate.Struct(uo); err != nil {
		return err
	}
	return svc.CheckSlugUniqueness(ctx, uo.Slug, orig)
}

type QueryFilter struct {
	Search   string
	City     string
	IsActive *bool
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.City = core.CleanString(qf.City)
}
