package room

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/booking"
)

type (
	Room struct {
		ID             string          `json:"id"`
		OrganizationID string          `json:"organization_id"`
		Name           string          `json:"name"`
		Description    string          `json:"description"`
		Capacity       int             `json:"capacity"`
		HourlyRate     decimal.Decimal `json:"hourly_rate"`
		OpensAt        booking.Minute  `json:"opens_at"`
		ClosesAt       booking.Minute  `json:"closes_at"`
		IsActive       bool            `json:"is_active"`
		PhotoPath      string          `json:"photo_path,omitempty"`
		Amenities      []Amenity       `json:"amenities"`
		Equipment      []Equipment     `json:"equipment"`
		CreatedAt      time.Time       `json:"created_at"` // UTC
		UpdatedAt      time.Time       `json:"updated_at"` // UTC
	}

	// Amenity belongs to the global catalog, shared by all rooms.
	Amenity struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	Equipment struct {
		ID       string `json:"id"`
		RoomID   string `json:"room_id"`
		Name     string `json:"name"`
		Quantity int    `json:"quantity"`
	}
)

// OpeningHours returns the interval during which the room may be booked.
func (r Room) OpeningHours() booking.Interval {
	return booking.Interval{Start: r.OpensAt, End: r.ClosesAt}
}

// NewRoom contains information needed to create a new Room.
type NewRoom struct {
	OrganizationID string          `json:"organization_id"`
	Name           string          `json:"name" validate:"required,max=255"`
	Description    string          `json:"description"`
	Capacity       int             `json:"capacity" validate:"min=1"`
	HourlyRate     decimal.Decimal `json:"hourly_rate"`
	OpensAt        booking.Minute  `json:"opens_at" validate:"hhmm"`
	ClosesAt       booking.Minute  `json:"closes_at" validate:"hhmm,gtfield=OpensAt"`
	AmenityIDs     []string        `json:"amenity_ids"`
}

func (nr *NewRoom) Validate(validate *validator.Validate) error {
	nr.OrganizationID = core.CleanString(nr.OrganizationID)
	nr.Name = core.CleanString(nr.Name)
	nr.Description = core.CleanString(nr.Description)
	if err := validate.Struct(nr); err != nil {
		return err
	}
	if nr.HourlyRate.IsNegative() {
		return core.NewValidationError(nil, core.FieldError{Field: "hourly_rate", Error: "must not be negative"})
	}
	return nil
}

// UpdateRoom defines what information may be provided to modify an existing Room.
type UpdateRoom struct {
	Name        string           `json:"name" validate:"max=255"`
	Description *string          `json:"description"`
	Capacity    int              `json:"capacity" validate:"min=0"`
	HourlyRate  *decimal.Decimal `json:"hourly_rate"`
	OpensAt     *booking.Minute  `json:"opens_at" validate:"omitempty,hhmm"`
	ClosesAt    *booking.Minute  `json:"closes_at" validate:"omitempty,hhmm"`
	IsActive    *bool            `json:"is_active"`
}

func (ur *UpdateRoom) Validate(validate *validator.Validate) error {
	ur.Name = core.CleanString(ur.Name)
	return validate.Struct(ur)
}

// Apply returns orig updated with the provided fields.
func (ur UpdateRoom) Apply(orig Room) (Room, error) {
	rm := orig
	if ur.Name != "" {
		rm.Name = ur.Name
	}
	if ur.Description != nil {
		rm.Description = core.CleanString(*ur.Description)
	}
	if ur.Capacity > 0 {
		rm.Capacity = ur.Capacity
	}
	if ur.HourlyRate != nil {
		if ur.HourlyRate.IsNegative() {
			return Room{}, core.NewValidationError(nil, core.FieldError{Field: "hourly_rate", Error: "must not be negative"})
		}
		rm.HourlyRate = *ur.HourlyRate
	}
	if ur.OpensAt != nil {
		rm.OpensAt = *ur.OpensAt
	}
	if ur.ClosesAt != nil {
		rm.ClosesAt = *ur.ClosesAt
	}
	if ur.IsActive != nil {
		rm.IsActive = *ur.IsActive
	}
	if rm.ClosesAt <= rm.OpensAt {
		return Room{}, core.NewValidationError(nil, core.FieldError{Field: "closes_at", Error: "must be after opens_at"})
	}
	return rm, nil
}

type NewAmenity struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (na *NewAmenity) Validate(validate *validator.Validate) error {
	na.Name = core.CleanString(na.Name)
	return validate.Struct(na)
}

type NewEquipment struct {
	Name     string `json:"name" validate:"required,max=255"`
	Quantity int    `json:"quantity" validate:"min=0"`
}

func (ne *NewEquipment) Validate(validate *validator.Validate) error {
	ne.Name = core.CleanString(ne.Name)
	if ne.Quantity == 0 {
		ne.Quantity = 1
	}
	return validate.Struct(ne)
}

// QueryFilter applies AND operation on its non-zero fields.
type QueryFilter struct {
	OrganizationID string
	MinCapacity    int
	AmenityID      string
	Search         string // case-insensitive match on name or description
	City           string // organization's city
	// ActiveOnly restricts to active rooms of active organizations.
	ActiveOnly bool
}

func (qf *QueryFilter) Clean() {
	qf.OrganizationID = core.CleanString(qf.OrganizationID)
	qf.AmenityID = core.CleanString(qf.AmenityID)
	qf.Search = core.CleanString(qf.Search)
	qf.City = core.CleanString(qf.City)
}
