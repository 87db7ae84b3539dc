package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/booking"
	"github.com/trezcool/roomly/storage/database/sqlxrepos"
	"github.com/trezcool/roomly/tests"
)

func bookingIDs(bookings []booking.Booking) []string {
	ids := make([]string, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}
	return ids
}

func TestBookingRepository(t *testing.T) {
	conf := testutil.NewConfig(t)
	db := testutil.PrepareDB(t, conf)
	ctx := context.Background()

	usrRepo := sqlxrepos.NewUserRepository(db)
	orgRepo := sqlxrepos.NewOrganizationRepository(db)
	roomRepo := sqlxrepos.NewRoomRepository(db)
	repo := sqlxrepos.NewBookingRepository(db)

	owner := testutil.CreateUser(t, usrRepo, "Owner", "owner", "owner@roomly.test", testutil.DefaultPassword, nil, true)
	jane := testutil.CreateUser(t, usrRepo, "Jane", "jane", "jane@roomly.test", testutil.DefaultPassword, nil, true)
	org := testutil.CreateOrganization(t, orgRepo, usrRepo, "Hub", "hub", &owner, time.Hour)
	roomA := testutil.CreateRoom(t, roomRepo, org.ID, "Room A", 10, "20.00")
	roomB := testutil.CreateRoom(t, roomRepo, org.ID, "Room B", 4, "15.50")

	b1 := testutil.CreateBooking(t, repo, roomA, jane.ID, "2021-03-01", "10:00", "11:00", booking.StatusConfirmed)
	b2 := testutil.CreateBooking(t, repo, roomA, jane.ID, "2021-03-01", "09:00", "10:00", booking.StatusPending)
	b3 := testutil.CreateBooking(t, repo, roomA, owner.ID, "2021-03-01", "12:00", "13:00", booking.StatusCancelled)
	b4 := testutil.CreateBooking(t, repo, roomB, owner.ID, "2021-03-02", "08:00", "09:30", booking.StatusConfirmed)

	t.Run("GetBookable", func(t *testing.T) {
		bk, err := repo.GetBookable(ctx, roomB.ID, false)
		require.NoError(t, err)
		assert.Equal(t, org.ID, bk.OrganizationID)
		assert.Equal(t, "15.5", bk.HourlyRate.String())
		assert.Equal(t, roomB.OpeningHours(), bk.Opening)
		assert.True(t, bk.IsActive)
		assert.True(t, bk.OrganizationActive)

		_, err = repo.GetBookable(ctx, "lol", false)
		assert.Equal(t, booking.ErrRoomNotFound, err)
	})

	t.Run("GetBooking", func(t *testing.T) {
		got, err := repo.GetBooking(ctx, b4.ID)
		require.NoError(t, err)
		assert.Equal(t, "2021-03-02", got.Date)
		assert.Equal(t, booking.MustParseMinute("09:30"), got.End)
		assert.True(t, b4.TotalPrice.Equal(got.TotalPrice))

		_, err = repo.GetBooking(ctx, "lol")
		assert.Equal(t, booking.ErrNotFound, err)
	})

	t.Run("ActiveRoomBookings", func(t *testing.T) {
		bookings, err := repo.ActiveRoomBookings(ctx, roomA.ID, "2021-03-01")
		require.NoError(t, err)
		assert.Equal(t, []string{b2.ID, b1.ID}, bookingIDs(bookings), "sorted by start, cancelled excluded")

		bookings, err = repo.ActiveRoomBookings(ctx, roomA.ID, "2021-03-02")
		require.NoError(t, err)
		assert.Empty(t, bookings)
	})

	t.Run("QueryBookings", func(t *testing.T) {
		tests := []struct {
			name     string
			filter   *booking.QueryFilter
			ordering []core.DBOrdering
			want     []string
		}{
			{name: "all", want: []string{b2.ID, b1.ID, b3.ID, b4.ID}},
			{name: "room", filter: &booking.QueryFilter{RoomID: roomB.ID}, want: []string{b4.ID}},
			{name: "user", filter: &booking.QueryFilter{UserID: jane.ID}, want: []string{b2.ID, b1.ID}},
			{name: "organization", filter: &booking.QueryFilter{OrganizationID: org.ID, Statuses: []string{booking.StatusCancelled}}, want: []string{b3.ID}},
			{name: "date from", filter: &booking.QueryFilter{DateFrom: "2021-03-02"}, want: []string{b4.ID}},
			{name: "date to", filter: &booking.QueryFilter{DateTo: "2021-03-01", Statuses: booking.ActiveStatuses}, want: []string{b2.ID, b1.ID}},
			{name: "no match", filter: &booking.QueryFilter{DateFrom: "2021-04-01"}, want: []string{}},
			{
				name:     "ordering",
				ordering: []core.DBOrdering{{Field: "date"}, {Field: "start"}, {Field: "lol"}},
				want:     []string{b4.ID, b3.ID, b1.ID, b2.ID},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				bookings, err := repo.QueryBookings(ctx, tt.filter, tt.ordering)
				require.NoError(t, err)
				assert.Equal(t, tt.want, bookingIDs(bookings))
			})
		}
	})

	t.Run("UpdateBooking", func(t *testing.T) {
		now := time.Now().UTC()
		b1.Status = booking.StatusCancelled
		b1.CancelledAt = &now
		_, err := repo.UpdateBooking(ctx, b1)
		require.NoError(t, err)

		got, err := repo.GetBooking(ctx, b1.ID)
		require.NoError(t, err)
		assert.Equal(t, booking.StatusCancelled, got.Status)
		require.NotNil(t, got.CancelledAt)
		assert.WithinDuration(t, now, *got.CancelledAt, time.Second)

		_, err = repo.UpdateBooking(ctx, booking.Booking{ID: "lol"})
		assert.Equal(t, booking.ErrNotFound, err)
	})
}
