package notification

import "time"

// Kinds
const (
	KindBookingCreated          = "booking_created"
	KindBookingCancelled        = "booking_cancelled"
	KindBookingRescheduled      = "booking_rescheduled"
	KindPaymentDue              = "payment_due"
	KindPaymentReceived         = "payment_received"
	KindOrganizationDeactivated = "organization_deactivated"
)

type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at"`    // UTC
	CreatedAt time.Time  `json:"created_at"` // UTC
}

func (n Notification) IsRead() bool { return n.ReadAt != nil }

type QueryFilter struct {
	UserID     string
	UnreadOnly bool
}
