package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roomly/core/booking"
	"github.com/trezcool/roomly/core/organization"
	"github.com/trezcool/roomly/core/room"
	"github.com/trezcool/roomly/core/user"
	"github.com/trezcool/roomly/tests"
)

type bookingFixture struct {
	*testApp
	owner, customer, other user.User
	room                   room.Room
	date                   string
}

func setupBooking(t *testing.T) *bookingFixture {
	app := setup(t)
	f := &bookingFixture{testApp: app, date: testutil.Date(1)}
	var org organization.Organization
	f.owner, org = app.createProvider(t, "owner", "Hub")
	f.customer = app.createUser(t, "Jane", "jane", user.RoleCustomer)
	f.other = app.createUser(t, "John", "john", user.RoleCustomer)
	f.room = testutil.CreateRoom(t, app.roomRepo, org.ID, "Room A", 10, "20.00")
	return f
}

func (f *bookingFixture) book(t *testing.T, usr user.User, start, end string) *bookingResult {
	t.Helper()
	nb := booking.NewBooking{
		RoomID:    f.room.ID,
		Date:      f.date,
		Start:     booking.MustParseMinute(start),
		End:       booking.MustParseMinute(end),
		Attendees: 2,
	}
	rec := f.do(newAuthRequest(http.MethodPost, "/api/bookings", f.token(t, usr), marshalObj(t, nb)))
	return &bookingResult{code: rec.Code, body: rec.Body.Bytes()}
}

type bookingResult struct {
	code int
	body []byte
}

func (r *bookingResult) booking(t *testing.T) booking.Booking {
	t.Helper()
	require.Equal(t, http.StatusCreated, r.code, "body: %s", r.body)
	var b booking.Booking
	require.NoError(t, json.Unmarshal(r.body, &b))
	return b
}

func Test_bookingApi_create(t *testing.T) {
	f := setupBooking(t)

	t.Run("auth required", func(t *testing.T) {
		rec := f.do(newRequest(http.MethodPost, "/api/bookings", []byte(`{}`)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("validation", func(t *testing.T) {
		rec := f.do(newAuthRequest(http.MethodPost, "/api/bookings", f.token(t, f.customer), []byte(`{"start":"25:00"}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", rec.Body.String())
	})

	t.Run("unknown room", func(t *testing.T) {
		nb := booking.NewBooking{RoomID: "lol", Date: f.date, Start: booking.MustParseMinute("09:00"), End: booking.MustParseMinute("10:00")}
		rec := f.do(newAuthRequest(http.MethodPost, "/api/bookings", f.token(t, f.customer), marshalObj(t, nb)))
		assert.Equal(t, http.StatusNotFound, rec.Code, "body: %s", rec.Body.String())
	})

	var first booking.Booking
	t.Run("created", func(t *testing.T) {
		first = f.book(t, f.customer, "09:00", "10:30").booking(t)
		assert.Equal(t, f.customer.ID, first.UserID)
		assert.Equal(t, booking.StatusConfirmed, first.Status)
		assert.True(t, decimal.RequireFromString("30").Equal(first.TotalPrice), "price = %s", first.TotalPrice)
	})

	t.Run("overlap is a conflict", func(t *testing.T) {
		res := f.book(t, f.other, "10:00", "11:00")
		require.Equal(t, http.StatusConflict, res.code, "body: %s", res.body)

		var body struct {
			Error     string            `json:"error"`
			Conflicts []booking.Booking `json:"conflicts"`
		}
		require.NoError(t, json.Unmarshal(res.body, &body))
		assert.Equal(t, booking.ErrConflict.Error(), body.Error)
		require.Len(t, body.Conflicts, 1)
		assert.Equal(t, first.ID, body.Conflicts[0].ID)
		// another customer's booking is redacted
		assert.Empty(t, body.Conflicts[0].UserID)
	})

	t.Run("touching is fine", func(t *testing.T) {
		f.book(t, f.other, "10:30", "11:00").booking(t)
	})
}

func Test_bookingApi_queryAndRetrieve(t *testing.T) {
	f := setupBooking(t)

	mine := f.book(t, f.customer, "09:00", "10:00").booking(t)
	theirs := f.book(t, f.other, "11:00", "12:00").booking(t)
	customerToken := f.token(t, f.customer)

	t.Run("customers only see their own", func(t *testing.T) {
		assert.Equal(t, []string{mine.ID}, listIDs(t, f.testApp, "/api/bookings", customerToken))
	})
	t.Run("staff see the organization's", func(t *testing.T) {
		got := listIDs(t, f.testApp, "/api/bookings?room_id="+f.room.ID, f.token(t, f.owner))
		assert.ElementsMatch(t, []string{mine.ID, theirs.ID}, got)
	})
	t.Run("filter by status", func(t *testing.T) {
		got := listIDs(t, f.testApp, "/api/bookings?status="+booking.StatusCancelled, f.token(t, f.owner))
		assert.Empty(t, got)
	})

	runHTTPTests(t, f.testApp, []httpTest{
		{name: "retrieve own", path: "/api/bookings/" + mine.ID, token: customerToken},
		{name: "retrieve another's", path: "/api/bookings/" + theirs.ID, token: customerToken, wantCode: http.StatusNotFound},
		{name: "staff retrieve", path: "/api/bookings/" + theirs.ID, token: f.token(t, f.owner)},
	})
}

func Test_bookingApi_rescheduleAndCancel(t *testing.T) {
	f := setupBooking(t)

	mine := f.book(t, f.customer, "09:00", "10:00").booking(t)
	theirs := f.book(t, f.other, "11:00", "12:00").booking(t)
	customerToken := f.token(t, f.customer)

	runHTTPTests(t, f.testApp, []httpTest{
		{
			name: "reschedule into a conflict", method: http.MethodPut, path: "/api/bookings/" + mine.ID, token: customerToken,
			body: []byte(`{"start":"10:30","end":"11:30"}`), wantCode: http.StatusConflict,
		},
		{
			name: "reschedule another's", method: http.MethodPut, path: "/api/bookings/" + theirs.ID, token: customerToken,
			body: []byte(`{"start":"13:00","end":"14:00"}`), wantCode: http.StatusForbidden,
		},
		{
			name: "overlapping itself is fine", method: http.MethodPut, path: "/api/bookings/" + mine.ID, token: customerToken,
			body: []byte(`{"start":"09:30","end":"10:30"}`),
		},
		{name: "cancel", method: http.MethodPost, path: "/api/bookings/" + mine.ID + "/cancel", token: customerToken},
		{name: "cancel again", method: http.MethodPost, path: "/api/bookings/" + mine.ID + "/cancel", token: customerToken},
	})

	t.Run("cancelled slot is free", func(t *testing.T) {
		f.book(t, f.other, "09:00", "10:30").booking(t)
	})
}

func Test_bookingApi_availability(t *testing.T) {
	f := setupBooking(t)
	b := f.book(t, f.customer, "09:00", "10:00").booking(t)

	path := func(start, end, exclude string) string {
		v := url.Values{"date": {f.date}, "start": {start}, "end": {end}}
		if exclude != "" {
			v.Set("exclude", exclude)
		}
		return "/api/rooms/" + f.room.ID + "/availability?" + v.Encode()
	}
	check := func(t *testing.T, p string) booking.Availability {
		rec := f.do(newRequest(http.MethodGet, p))
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
		var av booking.Availability
		decode(t, rec, &av)
		return av
	}

	t.Run("busy", func(t *testing.T) {
		av := check(t, path("09:30", "11:00", ""))
		assert.False(t, av.Available)
		require.Len(t, av.Conflicts, 1)
		assert.Equal(t, b.ID, av.Conflicts[0].ID)
	})
	t.Run("free", func(t *testing.T) {
		av := check(t, path("10:00", "11:00", ""))
		assert.True(t, av.Available)
		assert.Empty(t, av.Conflicts)
	})
	t.Run("excluded", func(t *testing.T) {
		assert.True(t, check(t, path("09:30", "11:00", b.ID)).Available)
	})

	runHTTPTests(t, f.testApp, []httpTest{
		{name: "bad times", path: path("lol", "10:00", ""), wantCode: http.StatusBadRequest},
		{name: "end before start", path: path("11:00", "10:00", ""), wantCode: http.StatusBadRequest},
		{name: "unknown room", path: "/api/rooms/lol/availability?date=" + f.date + "&start=09:00&end=10:00", wantCode: http.StatusNotFound},
	})

	t.Run("booker sees their own", func(t *testing.T) {
		rec := f.do(newAuthRequest(http.MethodGet, path("09:30", "11:00", ""), f.token(t, f.customer)))
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
		var av booking.Availability
		decode(t, rec, &av)
		require.Len(t, av.Conflicts, 1)
		assert.Equal(t, f.customer.ID, av.Conflicts[0].UserID)
	})

	t.Run("inactive room", func(t *testing.T) {
		rm := f.room
		rm.IsActive = false
		_, err := f.roomRepo.UpdateRoom(context.Background(), rm)
		require.NoError(t, err)

		runHTTPTests(t, f.testApp, []httpTest{
			{name: "anonymous", path: path("10:00", "11:00", ""), wantCode: http.StatusNotFound},
			{name: "customer", path: path("10:00", "11:00", ""), token: f.token(t, f.other), wantCode: http.StatusNotFound},
			{name: "staff", path: path("10:00", "11:00", ""), token: f.token(t, f.owner)},
			{name: "calendar", path: "/api/rooms/" + f.room.ID + "/calendar?date=" + f.date, wantCode: http.StatusNotFound},
		})
	})
}

func Test_bookingApi_calendar(t *testing.T) {
	f := setupBooking(t)
	f.book(t, f.customer, "09:00", "10:00")
	f.book(t, f.other, "09:30", "11:00")
	mine := f.book(t, f.other, "13:00", "14:00").booking(t)

	t.Run("anonymous", func(t *testing.T) {
		rec := f.do(newRequest(http.MethodGet, "/api/rooms/"+f.room.ID+"/calendar?date="+f.date))
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
		var cal booking.Calendar
		decode(t, rec, &cal)

		require.Len(t, cal.Clusters, 2)
		assert.Equal(t, 2, cal.Clusters[0].Lanes)
		assert.Equal(t, 1, cal.Clusters[1].Lanes)
		for _, c := range cal.Clusters {
			for _, p := range c.Bookings {
				assert.Empty(t, p.UserID, "redacted")
			}
		}
		want := []booking.Interval{
			{Start: booking.MustParseMinute("08:00"), End: booking.MustParseMinute("09:00")},
			{Start: booking.MustParseMinute("11:00"), End: booking.MustParseMinute("13:00")},
			{Start: booking.MustParseMinute("14:00"), End: booking.MustParseMinute("18:00")},
		}
		assert.Equal(t, want, cal.FreeSlots)
	})

	t.Run("booker sees their own", func(t *testing.T) {
		rec := f.do(newAuthRequest(http.MethodGet, "/api/rooms/"+f.room.ID+"/calendar?date="+f.date, f.token(t, f.other)))
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
		var cal booking.Calendar
		decode(t, rec, &cal)
		require.Len(t, cal.Clusters, 2)
		require.Len(t, cal.Clusters[1].Bookings, 1)
		assert.Equal(t, mine.ID, cal.Clusters[1].Bookings[0].ID)
		assert.Equal(t, f.other.ID, cal.Clusters[1].Bookings[0].UserID)
	})

	runHTTPTests(t, f.testApp, []httpTest{
		{name: "bad date", path: "/api/rooms/" + f.room.ID + "/calendar?date=lol", wantCode: http.StatusBadRequest},
		{name: "bad token", path: "/api/rooms/" + f.room.ID + "/calendar?date=" + f.date, token: "lol", wantCode: http.StatusUnauthorized},
	})
}
