package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/notification"
	"github.com/trezcool/roomly/core/user"
)

// NowFunc returns the current time; tests may replace it.
var NowFunc = time.Now

var ErrRoomNotFound = core.NewNotFoundError("room not found")

type (
	// Bookable is the part of a room, and of its organization, that booking depends on.
	Bookable struct {
		RoomID             string
		OrganizationID     string
		Name               string
		Capacity           int
		HourlyRate         decimal.Decimal
		Opening            Interval
		IsActive           bool
		OrganizationActive bool
	}

	Repository interface {
		// GetBookable returns the room with the given ID. When forUpdate is set, the room row stays locked
		// until the end of the transaction run by exec, serializing bookings of the room.
		GetBookable(ctx context.Context, roomID string, forUpdate bool, exec ...core.DBExecutor) (Bookable, error)
		CreateBooking(ctx context.Context, b Booking, exec ...core.DBExecutor) (Booking, error)
		GetBooking(ctx context.Context, id string, exec ...core.DBExecutor) (Booking, error)
		// QueryBookings applies AND operation on available QueryFilter fields.
		QueryBookings(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Booking, error)
		// ActiveRoomBookings returns the pending & confirmed bookings of the room on the date.
		ActiveRoomBookings(ctx context.Context, roomID, date string, exec ...core.DBExecutor) ([]Booking, error)
		UpdateBooking(ctx context.Context, b Booking, exec ...core.DBExecutor) (Booking, error)
	}

	// Metrics records booking outcomes.
	Metrics interface {
		BookingCreated()
		BookingConflict()
	}

	Service interface {
		// CheckAvailability reports whether iv is free on the room. actor may be nil.
		CheckAvailability(ctx context.Context, roomID, date string, iv Interval, excludeID string, actor *user.User) (Availability, error)
		Create(ctx context.Context, nb NewBooking, actor user.User) (Booking, error)
		Reschedule(ctx context.Context, id string, ub UpdateBooking, actor user.User) (Booking, error)
		Cancel(ctx context.Context, id string, actor user.User) (Booking, error)
		Get(ctx context.Context, id string, actor user.User) (Booking, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, actor user.User) ([]Booking, error)
		// Calendar lays out the room's day. Bookings the actor may not see are stripped of their details.
		Calendar(ctx context.Context, roomID, date string, actor *user.User) (Calendar, error)
	}

	ServiceDeps struct {
		DB       core.DB
		Repo     Repository
		UserSvc  user.Service
		NotifSvc notification.Service
		Config   *core.Config
		Logger   core.Logger
		Metrics  Metrics
	}

	service struct {
		db       core.DB
		repo     Repository
		usrSvc   user.Service
		notifSvc notification.Service
		conf     core.BookingConfig
		logger   core.Logger
		metrics  Metrics
	}
)

var _ Service = (*service)(nil)

func NewService(deps ServiceDeps) Service {
	svc := &service{
		db:       deps.DB,
		repo:     deps.Repo,
		usrSvc:   deps.UserSvc,
		notifSvc: deps.NotifSvc,
		conf:     deps.Config.Booking,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
	if svc.metrics == nil {
		svc.metrics = nopMetrics{}
	}
	return svc
}

// CanView reports whether usr may see the booking's details.
func CanView(usr user.User, b Booking) bool {
	return usr.IsAdmin() || (usr.ID != "" && b.UserID == usr.ID) || usr.BelongsTo(b.OrganizationID)
}

// CanModify reports whether usr may reschedule or cancel the booking.
func CanModify(usr user.User, b Booking) bool {
	return CanView(usr, b)
}

func (svc *service) CheckAvailability(ctx context.Context, roomID, date string, iv Interval, excludeID string, actor *user.User) (Availability, error) {
	var flds []core.FieldError
	if !isDate(date) {
		flds = append(flds, core.FieldError{Field: "date", Error: dateText})
	}
	if !iv.Valid() {
		flds = append(flds, core.FieldError{Field: "end", Error: "end must be after start"})
	}
	if len(flds) > 0 {
		return Availability{}, core.NewValidationError(nil, flds...)
	}

	room, err := svc.repo.GetBookable(ctx, roomID, false)
	if err != nil {
		return Availability{}, err
	}
	if !visible(room, actor) {
		return Availability{}, ErrRoomNotFound
	}
	existing, err := svc.repo.ActiveRoomBookings(ctx, roomID, date)
	if err != nil {
		return Availability{}, errors.Wrap(err, "loading room bookings")
	}

	conflicts := FindConflicts(iv, existing, excludeID)
	if conflicts == nil {
		conflicts = []Booking{}
	}
	for i, c := range conflicts {
		if actor == nil || !CanView(*actor, c) {
			conflicts[i] = redact(c)
		}
	}
	return Availability{
		RoomID:    roomID,
		Date:      date,
		Interval:  iv,
		Available: len(conflicts) == 0,
		Conflicts: conflicts,
	}, nil
}

// Create books a room. The conflict check and the insert run in one transaction holding the room's lock.
func (svc *service) Create(ctx context.Context, nb NewBooking, actor user.User) (Booking, error) {
	bookerID := actor.ID
	if nb.UserID != "" && nb.UserID != actor.ID {
		booker, err := svc.usrSvc.GetByID(ctx, nb.UserID)
		if err != nil {
			if core.IsNotFound(err) {
				return Booking{}, core.NewValidationError(err, core.FieldError{Field: "user_id", Error: "user not found"})
			}
			return Booking{}, errors.Wrap(err, "getting booker")
		}
		bookerID = booker.ID
	}

	now := NowFunc()
	b := Booking{
		ID:        uuid.NewString(),
		RoomID:    nb.RoomID,
		UserID:    bookerID,
		Date:      nb.Date,
		Start:     nb.Start,
		End:       nb.End,
		Title:     nb.Title,
		Attendees: nb.Attendees,
		Status:    StatusConfirmed,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}

	err := core.RunInTx(ctx, svc.db, nil, func(tx core.DBExecutor) error {
		room, err := svc.repo.GetBookable(ctx, nb.RoomID, true, tx)
		if err != nil {
			return err
		}
		if bookerID != actor.ID && !actor.IsAdmin() && !actor.BelongsTo(room.OrganizationID) {
			return core.ErrPermissionDenied
		}
		if err = svc.validateSlot(room, b, now, true); err != nil {
			return err
		}

		if err = svc.checkConflicts(ctx, b, "", actor, tx); err != nil {
			return err
		}

		b.OrganizationID = room.OrganizationID
		b.TotalPrice = price(room.HourlyRate, b.Interval())
		b, err = svc.repo.CreateBooking(ctx, b, tx)
		return errors.Wrap(err, "creating booking")
	})
	if err != nil {
		return Booking{}, err
	}

	svc.metrics.BookingCreated()
	svc.notify(ctx, b, notification.KindBookingCreated, "Booking confirmed",
		fmt.Sprintf("Your booking on %s from %s to %s is confirmed.", b.Date, b.Start, b.End))
	return b, nil
}

// Reschedule moves a booking, checking it against the room's other bookings under the room's lock.
func (svc *service) Reschedule(ctx context.Context, id string, ub UpdateBooking, actor user.User) (Booking, error) {
	var updated Booking
	err := core.RunInTx(ctx, svc.db, nil, func(tx core.DBExecutor) error {
		orig, room, err := svc.lockBooking(ctx, id, tx)
		if err != nil {
			return err
		}
		if !CanModify(actor, orig) {
			return core.ErrPermissionDenied
		}
		if !orig.IsActive() {
			return core.NewValidationError(nil, core.FieldError{Field: "status", Error: "a cancelled booking cannot be rescheduled"})
		}

		now := NowFunc()
		b := ub.apply(orig)
		// an unmoved booking may be under way
		moved := b.Date != orig.Date || b.Start != orig.Start || b.End != orig.End
		if err = svc.validateSlot(room, b, now, moved); err != nil {
			return err
		}
		if err = svc.checkConflicts(ctx, b, b.ID, actor, tx); err != nil {
			return err
		}

		b.TotalPrice = price(room.HourlyRate, b.Interval())
		b.UpdatedAt = now.UTC()
		updated, err = svc.repo.UpdateBooking(ctx, b, tx)
		return errors.Wrap(err, "updating booking")
	})
	if err != nil {
		return Booking{}, err
	}

	svc.notify(ctx, updated, notification.KindBookingRescheduled, "Booking rescheduled",
		fmt.Sprintf("Your booking is now on %s from %s to %s.", updated.Date, updated.Start, updated.End))
	return updated, nil
}

// Cancel releases the booking's room. Cancelling a cancelled booking is a no-op.
func (svc *service) Cancel(ctx context.Context, id string, actor user.User) (Booking, error) {
	var (
		b         Booking
		cancelled bool
	)
	err := core.RunInTx(ctx, svc.db, nil, func(tx core.DBExecutor) error {
		var err error
		if b, _, err = svc.lockBooking(ctx, id, tx); err != nil {
			return err
		}
		if !CanModify(actor, b) {
			return core.ErrPermissionDenied
		}
		if b.Status == StatusCancelled {
			return nil
		}

		now := NowFunc().UTC()
		b.Status = StatusCancelled
		b.CancelledAt = &now
		b.UpdatedAt = now
		if b, err = svc.repo.UpdateBooking(ctx, b, tx); err != nil {
			return errors.Wrap(err, "cancelling booking")
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return Booking{}, err
	}
	if !cancelled {
		return b, nil
	}

	svc.notify(ctx, b, notification.KindBookingCancelled, "Booking cancelled",
		fmt.Sprintf("The booking on %s from %s to %s was cancelled.", b.Date, b.Start, b.End))
	return b, nil
}

func (svc *service) Get(ctx context.Context, id string, actor user.User) (Booking, error) {
	b, err := svc.repo.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if !CanView(actor, b) {
		// do not disclose other users' bookings
		return Booking{}, ErrNotFound
	}
	return b, nil
}

// Query lists the bookings visible to the actor: admins see all, staff see their organization's
// and customers see their own.
func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, actor user.User) ([]Booking, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	switch {
	case actor.IsAdmin():
	case actor.IsProvider():
		if filter.UserID != actor.ID {
			filter.OrganizationID = actor.OrganizationID
		}
	default:
		filter.UserID = actor.ID
	}
	return svc.repo.QueryBookings(ctx, filter, ordering)
}

func (svc *service) Calendar(ctx context.Context, roomID, date string, actor *user.User) (Calendar, error) {
	if !isDate(date) {
		return Calendar{}, core.NewValidationError(nil, core.FieldError{Field: "date", Error: dateText})
	}
	room, err := svc.repo.GetBookable(ctx, roomID, false)
	if err != nil {
		return Calendar{}, err
	}
	if !visible(room, actor) {
		return Calendar{}, ErrRoomNotFound
	}

	bookings, err := svc.repo.ActiveRoomBookings(ctx, roomID, date)
	if err != nil {
		return Calendar{}, errors.Wrap(err, "loading room bookings")
	}
	for i, b := range bookings {
		if actor == nil || !CanView(*actor, b) {
			bookings[i] = redact(b)
		}
	}

	clusters := Clusters(bookings)
	if clusters == nil {
		clusters = []Cluster{}
	}
	free := FreeSlots(room.Opening, bookings)
	if free == nil {
		free = []Interval{}
	}
	return Calendar{
		RoomID:    roomID,
		Date:      date,
		Opening:   room.Opening,
		Clusters:  clusters,
		FreeSlots: free,
	}, nil
}

// validateSlot checks a booking's date, hours and size against the room and the booking rules.
// Dates are calendar days in now's location. checkTime=false skips the past and advance checks.
func (svc *service) validateSlot(room Bookable, b Booking, now time.Time, checkTime bool) error {
	if !room.IsActive || !room.OrganizationActive {
		return core.NewValidationError(nil, core.FieldError{Field: "room_id", Error: "this room is not available for booking"})
	}

	var flds []core.FieldError
	addErr := func(field, msg string) { flds = append(flds, core.FieldError{Field: field, Error: msg}) }

	day, err := time.Parse(DateLayout, b.Date)
	if err != nil {
		addErr("date", dateText)
		return core.NewValidationError(nil, flds...)
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	switch {
	case !checkTime:
	case day.Before(today):
		addErr("date", "date cannot be in the past")
	case day.Equal(today) && int(b.Start) < now.Hour()*60+now.Minute():
		addErr("start", "start cannot be in the past")
	case day.After(today.Add(svc.conf.MaxAdvance)):
		addErr("date", fmt.Sprintf("bookings cannot be made more than %d days in advance", int(svc.conf.MaxAdvance.Hours()/24)))
	}

	iv := b.Interval()
	dur := iv.Duration()
	switch {
	case !iv.Valid():
		addErr("end", "end must be after start")
	case !room.Opening.Contains(iv):
		addErr("start", fmt.Sprintf("the room is open from %s to %s", room.Opening.Start, room.Opening.End))
	case dur < svc.conf.MinDuration:
		addErr("end", fmt.Sprintf("bookings must last at least %s", fmtDuration(svc.conf.MinDuration)))
	case svc.conf.MaxDuration > 0 && dur > svc.conf.MaxDuration:
		addErr("end", fmt.Sprintf("bookings cannot last more than %s", fmtDuration(svc.conf.MaxDuration)))
	case svc.conf.SlotStep > 0 && (dur%svc.conf.SlotStep != 0 || (time.Duration(iv.Start)*time.Minute)%svc.conf.SlotStep != 0):
		addErr("start", fmt.Sprintf("bookings must start and end on %s steps", fmtDuration(svc.conf.SlotStep)))
	}

	if b.Attendees > room.Capacity {
		addErr("attendees", fmt.Sprintf("the room holds at most %d people", room.Capacity))
	}

	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// lockBooking locks the booking's room, then reads the booking again
// so that changes committed while waiting for the lock are seen.
func (svc *service) lockBooking(ctx context.Context, id string, tx core.DBExecutor) (Booking, Bookable, error) {
	b, err := svc.repo.GetBooking(ctx, id, tx)
	if err != nil {
		return Booking{}, Bookable{}, err
	}
	room, err := svc.repo.GetBookable(ctx, b.RoomID, true, tx)
	if err != nil {
		return Booking{}, Bookable{}, err
	}
	if b, err = svc.repo.GetBooking(ctx, id, tx); err != nil {
		return Booking{}, Bookable{}, err
	}
	return b, room, nil
}

// visible reports whether the room can be looked up by actor: inactive rooms are hidden from all but their staff.
func visible(room Bookable, actor *user.User) bool {
	if room.IsActive && room.OrganizationActive {
		return true
	}
	return actor != nil && (actor.IsAdmin() || actor.BelongsTo(room.OrganizationID))
}

// checkConflicts returns a ConflictError listing the bookings overlapping b, redacted for the actor.
func (svc *service) checkConflicts(ctx context.Context, b Booking, excludeID string, actor user.User, tx core.DBExecutor) error {
	existing, err := svc.repo.ActiveRoomBookings(ctx, b.RoomID, b.Date, tx)
	if err != nil {
		return errors.Wrap(err, "loading room bookings")
	}
	if conflicts := FindConflicts(b.Interval(), existing, excludeID); len(conflicts) > 0 {
		svc.metrics.BookingConflict()
		for i, c := range conflicts {
			if !CanView(actor, c) {
				conflicts[i] = redact(c)
			}
		}
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

// notify tells the booker and the organization's owner about a booking change.
// Failures are logged: the booking itself already succeeded.
func (svc *service) notify(ctx context.Context, b Booking, kind, title, body string) {
	var recipients []user.User
	if booker, err := svc.usrSvc.GetByID(ctx, b.UserID); err == nil {
		recipients = append(recipients, booker)
	} else {
		svc.logger.Error(fmt.Sprintf("booking.notify: getting booker %s: %v", b.UserID, err), err)
	}
	if owner, err := svc.usrSvc.GetOrganizationOwner(ctx, b.OrganizationID); err == nil {
		recipients = append(recipients, owner)
	} else if !core.IsNotFound(err) {
		svc.logger.Error(fmt.Sprintf("booking.notify: getting owner of %s: %v", b.OrganizationID, err), err)
	}

	if _, err := svc.notifSvc.Notify(ctx, recipients, kind, title, body, true /* email */); err != nil {
		svc.logger.Error(fmt.Sprintf("booking.notify: %v", err), err)
	}
}

// price is the hourly rate prorated to the interval's length, rounded to cents.
func price(hourlyRate decimal.Decimal, iv Interval) decimal.Decimal {
	minutes := decimal.NewFromInt(int64(iv.End - iv.Start))
	return hourlyRate.Mul(minutes).Div(decimal.NewFromInt(60)).Round(2)
}

func redact(b Booking) Booking {
	b.UserID = ""
	b.Title = ""
	b.Attendees = 0
	b.TotalPrice = decimal.Zero
	return b
}

func fmtDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

type nopMetrics struct{}

func (nopMetrics) BookingCreated()  {}
func (nopMetrics) BookingConflict() {}
