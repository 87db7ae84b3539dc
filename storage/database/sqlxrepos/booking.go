package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/booking"
)

var (
	bookingColumns = []string{
		"id", "room_id", "organization_id", "user_id", "booking_date", "start_minute", "end_minute", "title",
		"attendees", "status", "total_price", "created_at", "updated_at", "cancelled_at",
	}
	bookingOrderings = map[string]string{
		"date":        "booking_date",
		"start":       "start_minute",
		"created_at":  "created_at",
		"total_price": "total_price",
	}
)

type bookingRow struct {
	ID             string          `db:"id"`
	RoomID         string          `db:"room_id"`
	OrganizationID string          `db:"organization_id"`
	UserID         string          `db:"user_id"`
	Date           string          `db:"booking_date"`
	Start          int             `db:"start_minute"`
	End            int             `db:"end_minute"`
	Title          string          `db:"title"`
	Attendees      int             `db:"attendees"`
	Status         string          `db:"status"`
	TotalPrice     decimal.Decimal `db:"total_price"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	CancelledAt    null.Time       `db:"cancelled_at"`
}

func newBookingRow(b booking.Booking) bookingRow {
	row := bookingRow{
		ID:             b.ID,
		RoomID:         b.RoomID,
		OrganizationID: b.OrganizationID,
		UserID:         b.UserID,
		Date:           b.Date,
		Start:          int(b.Start),
		End:            int(b.End),
		Title:          b.Title,
		Attendees:      b.Attendees,
		Status:         b.Status,
		TotalPrice:     b.TotalPrice,
		CreatedAt:      b.CreatedAt.UTC(),
		UpdatedAt:      b.UpdatedAt.UTC(),
	}
	if b.CancelledAt != nil {
		row.CancelledAt = null.TimeFrom(b.CancelledAt.UTC())
	}
	return row
}

func (row bookingRow) toBooking() booking.Booking {
	b := booking.Booking{
		ID:             row.ID,
		RoomID:         row.RoomID,
		OrganizationID: row.OrganizationID,
		UserID:         row.UserID,
		Date:           row.Date,
		Start:          booking.Minute(row.Start),
		End:            booking.Minute(row.End),
		Title:          row.Title,
		Attendees:      row.Attendees,
		Status:         row.Status,
		TotalPrice:     row.TotalPrice,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
	if row.CancelledAt.Valid {
		t := row.CancelledAt.Time.UTC()
		b.CancelledAt = &t
	}
	return b
}

func (row bookingRow) values() map[string]interface{} {
	return map[string]interface{}{
		"booking_date": row.Date,
		"start_minute": row.Start,
		"end_minute":   row.End,
		"title":        row.Title,
		"attendees":    row.Attendees,
		"status":       row.Status,
		"total_price":  row.TotalPrice,
		"updated_at":   row.UpdatedAt,
		"cancelled_at": row.CancelledAt,
	}
}

type bookingRepository struct {
	baseRepository
}

var _ booking.Repository = (*bookingRepository)(nil)

func NewBookingRepository(db core.DBExecutor) booking.Repository {
	return &bookingRepository{baseRepository{db: db}}
}

func (repo *bookingRepository) GetBookable(ctx context.Context, roomID string, forUpdate bool, exec ...core.DBExecutor) (booking.Bookable, error) {
	db := repo.executor(exec)

	q := sq.Select(
		"r.id", "r.organization_id", "r.name", "r.capacity", "r.hourly_rate", "r.opens_at", "r.closes_at",
		"r.is_active", "o.is_active AS organization_active",
	).
		From("rooms r").
		Join("organizations o ON o.id = r.organization_id").
		Where(sq.Eq{"r.id": roomID})
	// SQLite has no row locks: its transactions begin IMMEDIATE, which already serializes writers.
	if forUpdate && db.DriverName() == driverPostgres {
		q = q.Suffix("FOR UPDATE OF r")
	}

	var row struct {
		ID                 string          `db:"id"`
		OrganizationID     string          `db:"organization_id"`
		Name               string          `db:"name"`
		Capacity           int             `db:"capacity"`
		HourlyRate         decimal.Decimal `db:"hourly_rate"`
		OpensAt            int             `db:"opens_at"`
		ClosesAt           int             `db:"closes_at"`
		IsActive           bool            `db:"is_active"`
		OrganizationActive bool            `db:"organization_active"`
	}
	if err := get(ctx, db, &row, q, booking.ErrRoomNotFound); err != nil {
		return booking.Bookable{}, err
	}
	return booking.Bookable{
		RoomID:             row.ID,
		OrganizationID:     row.OrganizationID,
		Name:               row.Name,
		Capacity:           row.Capacity,
		HourlyRate:         row.HourlyRate,
		Opening:            booking.Interval{Start: booking.Minute(row.OpensAt), End: booking.Minute(row.ClosesAt)},
		IsActive:           row.IsActive,
		OrganizationActive: row.OrganizationActive,
	}, nil
}

func (repo *bookingRepository) CreateBooking(ctx context.Context, b booking.Booking, exec ...core.DBExecutor) (booking.Booking, error) {
	if b.ID == "" {
		b.ID = newID()
	}
	row := newBookingRow(b)
	vals := row.values()
	vals["id"] = row.ID
	vals["room_id"] = row.RoomID
	vals["organization_id"] = row.OrganizationID
	vals["user_id"] = row.UserID
	vals["created_at"] = row.CreatedAt

	if _, err := execute(ctx, repo.executor(exec), sq.Insert("bookings").SetMap(vals)); err != nil {
		return booking.Booking{}, errors.Wrap(err, "inserting booking")
	}
	return row.toBooking(), nil
}

func (repo *bookingRepository) GetBooking(ctx context.Context, id string, exec ...core.DBExecutor) (booking.Booking, error) {
	var row bookingRow
	q := sq.Select(bookingColumns...).From("bookings").Where(sq.Eq{"id": id})
	if err := get(ctx, repo.executor(exec), &row, q, booking.ErrNotFound); err != nil {
		return booking.Booking{}, err
	}
	return row.toBooking(), nil
}

func (repo *bookingRepository) QueryBookings(ctx context.Context, filter *booking.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]booking.Booking, error) {
	q := sq.Select(bookingColumns...).From("bookings")
	if filter != nil {
		if filter.RoomID != "" {
			q = q.Where(sq.Eq{"room_id": filter.RoomID})
		}
		if filter.OrganizationID != "" {
			q = q.Where(sq.Eq{"organization_id": filter.OrganizationID})
		}
		if filter.UserID != "" {
			q = q.Where(sq.Eq{"user_id": filter.UserID})
		}
		// YYYY-MM-DD dates sort lexically
		if filter.DateFrom != "" {
			q = q.Where(sq.GtOrEq{"booking_date": filter.DateFrom})
		}
		if filter.DateTo != "" {
			q = q.Where(sq.LtOrEq{"booking_date": filter.DateTo})
		}
		if len(filter.Statuses) > 0 {
			q = q.Where(sq.Eq{"status": filter.Statuses})
		}
	}
	q = orderBy(q, ordering, bookingOrderings, "booking_date ASC", "start_minute ASC")
	return repo.selectBookings(ctx, repo.executor(exec), q)
}

func (repo *bookingRepository) ActiveRoomBookings(ctx context.Context, roomID, date string, exec ...core.DBExecutor) ([]booking.Booking, error) {
	q := sq.Select(bookingColumns...).
		From("bookings").
		Where(sq.Eq{"room_id": roomID, "booking_date": date, "status": booking.ActiveStatuses}).
		OrderBy("start_minute ASC", "end_minute ASC")
	return repo.selectBookings(ctx, repo.executor(exec), q)
}

func (repo *bookingRepository) UpdateBooking(ctx context.Context, b booking.Booking, exec ...core.DBExecutor) (booking.Booking, error) {
	row := newBookingRow(b)
	n, err := execute(ctx, repo.executor(exec), sq.Update("bookings").SetMap(row.values()).Where(sq.Eq{"id": row.ID}))
	if err != nil {
		return booking.Booking{}, errors.Wrap(err, "updating booking")
	}
	if n == 0 {
		return booking.Booking{}, booking.ErrNotFound
	}
	return row.toBooking(), nil
}

func (repo *bookingRepository) selectBookings(ctx context.Context, db core.DBExecutor, q sq.SelectBuilder) ([]booking.Booking, error) {
	var rows []bookingRow
	if err := selectAll(ctx, db, &rows, q); err != nil {
		return nil, err
	}
	bookings := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		bookings = append(bookings, row.toBooking())
	}
	return bookings, nil
}
