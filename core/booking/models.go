package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roomly/core"
)

// DateLayout is the layout of booking dates.
const DateLayout = "2006-01-02"

// Statuses
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

var (
	AllStatuses    = []string{StatusPending, StatusConfirmed, StatusCancelled}
	ActiveStatuses = []string{StatusPending, StatusConfirmed}

	// errors
	ErrNotFound = core.NewNotFoundError("booking not found")
	ErrConflict = errors.New("the room is already booked during this time")
)

type Booking struct {
	ID             string          `json:"id"`
	RoomID         string          `json:"room_id"`
	OrganizationID string          `json:"organization_id"`
	UserID         string          `json:"user_id,omitempty"`
	Date           string          `json:"date"` // YYYY-MM-DD
	Start          Minute          `json:"start"`
	End            Minute          `json:"end"`
	Title          string          `json:"title,omitempty"`
	Attendees      int             `json:"attendees"`
	Status         string          `json:"status"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	CreatedAt      time.Time       `json:"created_at"` // UTC
	UpdatedAt      time.Time       `json:"updated_at"` // UTC
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

func (b Booking) Interval() Interval {
	return Interval{Start: b.Start, End: b.End}
}

// IsActive reports whether the booking holds its room.
func (b Booking) IsActive() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

// Hours returns the booked duration in hours.
func (b Booking) Hours() decimal.Decimal {
	return decimal.NewFromInt(int64(b.End - b.Start)).Div(decimal.NewFromInt(60))
}

// NewBooking contains information needed to book a room.
type NewBooking struct {
	RoomID    string `json:"room_id" validate:"required"`
	Date      string `json:"date" validate:"required,date"`
	Start     Minute `json:"start" validate:"hhmm"`
	End       Minute `json:"end" validate:"hhmm"`
	Title     string `json:"title" validate:"max=255"`
	Attendees int    `json:"attendees" validate:"min=0"`
	// UserID books on behalf of another user; reserved to admins and the room's staff.
	UserID string `json:"user_id"`
}

func (nb *NewBooking) Clean() {
	nb.RoomID = core.CleanString(nb.RoomID)
	nb.Date = core.CleanString(nb.Date)
	nb.Title = core.CleanString(nb.Title)
	nb.UserID = core.CleanString(nb.UserID)
	if nb.Attendees == 0 {
		nb.Attendees = 1
	}
}

func (nb *NewBooking) Validate(validate *validator.Validate) error {
	nb.Clean()
	return validate.Struct(nb)
}

// UpdateBooking defines what information may be provided to reschedule an existing Booking.
// Zero fields keep their current value.
type UpdateBooking struct {
	Date      string  `json:"date" validate:"omitempty,date"`
	Start     *Minute `json:"start" validate:"omitempty,hhmm"`
	End       *Minute `json:"end" validate:"omitempty,hhmm"`
	Title     *string `json:"title" validate:"omitempty,max=255"`
	Attendees int     `json:"attendees" validate:"min=0"`
}

func (ub *UpdateBooking) Validate(validate *validator.Validate) error {
	ub.Date = core.CleanString(ub.Date)
	if ub.Title != nil {
		title := core.CleanString(*ub.Title)
		ub.Title = &title
	}
	return validate.Struct(ub)
}

// apply returns orig updated with the provided fields.
func (ub UpdateBooking) apply(orig Booking) Booking {
	b := orig
	if ub.Date != "" {
		b.Date = ub.Date
	}
	if ub.Start != nil {
		b.Start = *ub.Start
	}
	if ub.End != nil {
		b.End = *ub.End
	}
	if ub.Title != nil {
		b.Title = *ub.Title
	}
	if ub.Attendees > 0 {
		b.Attendees = ub.Attendees
	}
	return b
}

// QueryFilter applies AND operation on its non-zero fields.
// DateFrom and DateTo are inclusive.
type QueryFilter struct {
	RoomID         string
	OrganizationID string
	UserID         string
	DateFrom       string
	DateTo         string
	Statuses       []string
}

func (qf *QueryFilter) Clean() {
	qf.RoomID = core.CleanString(qf.RoomID)
	qf.OrganizationID = core.CleanString(qf.OrganizationID)
	qf.UserID = core.CleanString(qf.UserID)
	qf.DateFrom = core.CleanString(qf.DateFrom)
	qf.DateTo = core.CleanString(qf.DateTo)
	for i, st := range qf.Statuses {
		qf.Statuses[i] = core.CleanString(st, true /* lower */)
	}
}

func (qf *QueryFilter) Validate() error {
	qf.Clean()
	var flds []core.FieldError
	if qf.DateFrom != "" && !isDate(qf.DateFrom) {
		flds = append(flds, core.FieldError{Field: "from", Error: dateText})
	}
	if qf.DateTo != "" && !isDate(qf.DateTo) {
		flds = append(flds, core.FieldError{Field: "to", Error: dateText})
	}
	for _, st := range qf.Statuses {
		if !isStatus(st) {
			flds = append(flds, core.FieldError{Field: "status", Error: fmt.Sprintf("must be one of %s", strings.Join(AllStatuses, ", "))})
			break
		}
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// ConflictError is returned when a booking overlaps active bookings of the same room.
type ConflictError struct {
	Conflicts []Booking
}

func (ce *ConflictError) Error() string {
	return fmt.Sprintf("%s (%d conflicting booking(s))", ErrConflict.Error(), len(ce.Conflicts))
}

// Cause lets errors.Cause unwrap a ConflictError to ErrConflict.
func (ce *ConflictError) Cause() error { return ErrConflict }

// AsConflict returns the ConflictError wrapped in err, if any.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Availability is the result of checking an interval against a room's bookings.
type Availability struct {
	RoomID    string    `json:"room_id"`
	Date      string    `json:"date"`
	Interval  Interval  `json:"interval"`
	Available bool      `json:"available"`
	Conflicts []Booking `json:"conflicts"`
}

// Calendar is the layout of a room's day.
type Calendar struct {
	RoomID    string     `json:"room_id"`
	Date      string     `json:"date"`
	Opening   Interval   `json:"opening"`
	Clusters  []Cluster  `json:"clusters"`
	FreeSlots []Interval `json:"free_slots"`
}

func isDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

func isStatus(s string) bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}
