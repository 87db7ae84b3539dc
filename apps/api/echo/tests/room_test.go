package tests

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roomly/core/booking"
	"github.com/trezcool/roomly/core/room"
	"github.com/trezcool/roomly/core/user"
	"github.com/trezcool/roomly/tests"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func Test_roomApi_create(t *testing.T) {
	app := setup(t)

	owner, org := app.createProvider(t, "owner", "Hub")
	outsider, _ := app.createProvider(t, "outsider", "Elsewhere")
	customer := app.createUser(t, "Jane", "jane", user.RoleCustomer)
	admin := app.createUser(t, "Admin", "admin", user.RoleAdmin)
	wifi, err := app.roomRepo.CreateAmenity(context.Background(), room.Amenity{ID: "wifi", Name: "Wi-Fi"})
	require.NoError(t, err)

	nr := room.NewRoom{
		Name:       "Room A",
		Capacity:   12,
		HourlyRate: decimal.RequireFromString("15.5"),
		OpensAt:    booking.MustParseMinute("08:00"),
		ClosesAt:   booking.MustParseMinute("20:00"),
		AmenityIDs: []string{wifi.ID},
	}

	t.Run("staff create in their organization", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/api/rooms", app.token(t, owner), marshalObj(t, nr)))
		require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
		var rm room.Room
		decode(t, rec, &rm)
		assert.Equal(t, org.ID, rm.OrganizationID)
		assert.True(t, rm.IsActive)
		assert.True(t, nr.HourlyRate.Equal(rm.HourlyRate))
		require.Len(t, rm.Amenities, 1)
		assert.Equal(t, wifi.Name, rm.Amenities[0].Name)
	})

	t.Run("admins create for any organization", func(t *testing.T) {
		data := nr
		data.OrganizationID = org.ID
		data.AmenityIDs = nil
		rec := app.do(newAuthRequest(http.MethodPost, "/api/rooms", app.token(t, admin), marshalObj(t, data)))
		assert.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	})

	forOrg := nr
	forOrg.OrganizationID = org.ID
	unknownAmenity := nr
	unknownAmenity.AmenityIDs = []string{"lol"}
	closesEarly := nr
	closesEarly.ClosesAt = booking.MustParseMinute("07:00")

	runHTTPTests(t, app, []httpTest{
		{name: "auth required", method: http.MethodPost, path: "/api/rooms", body: marshalObj(t, nr), wantCode: http.StatusUnauthorized},
		{name: "customers cannot", method: http.MethodPost, path: "/api/rooms", token: app.token(t, customer), body: marshalObj(t, nr), wantCode: http.StatusForbidden},
		{name: "another organization", method: http.MethodPost, path: "/api/rooms", token: app.token(t, outsider), body: marshalObj(t, forOrg), wantCode: http.StatusForbidden},
		{name: "name required", method: http.MethodPost, path: "/api/rooms", token: app.token(t, owner), body: []byte(`{"capacity":2}`), wantCode: http.StatusBadRequest},
		{name: "closes before opening", method: http.MethodPost, path: "/api/rooms", token: app.token(t, owner), body: marshalObj(t, closesEarly), wantCode: http.StatusBadRequest},
		{name: "unknown amenity", method: http.MethodPost, path: "/api/rooms", token: app.token(t, owner), body: marshalObj(t, unknownAmenity), wantCode: http.StatusBadRequest},
	})
}

func Test_roomApi_queryAndRetrieve(t *testing.T) {
	app := setup(t)

	owner, org := app.createProvider(t, "owner", "Hub")
	big := testutil.CreateRoom(t, app.roomRepo, org.ID, "Big Room", 40, "50.00")
	small := testutil.CreateRoom(t, app.roomRepo, org.ID, "Small Room", 4, "10.00")
	closed := testutil.CreateRoom(t, app.roomRepo, org.ID, "Closed Room", 10, "10.00")
	closed.IsActive = false
	_, err := app.roomRepo.UpdateRoom(context.Background(), closed)
	require.NoError(t, err)

	t.Run("anonymous only see active rooms", func(t *testing.T) {
		assert.ElementsMatch(t, []string{big.ID, small.ID}, listIDs(t, app, "/api/rooms", ""))
	})
	t.Run("staff see all of theirs", func(t *testing.T) {
		got := listIDs(t, app, "/api/rooms?organization_id="+org.ID, app.token(t, owner))
		assert.ElementsMatch(t, []string{big.ID, small.ID, closed.ID}, got)
	})
	t.Run("min capacity", func(t *testing.T) {
		assert.Equal(t, []string{big.ID}, listIDs(t, app, "/api/rooms?min_capacity=10", ""))
	})
	t.Run("search", func(t *testing.T) {
		assert.Equal(t, []string{small.ID}, listIDs(t, app, "/api/rooms?search=small", ""))
	})

	runHTTPTests(t, app, []httpTest{
		{name: "invalid min capacity", path: "/api/rooms?min_capacity=lol", wantCode: http.StatusBadRequest},
		{name: "retrieve", path: "/api/rooms/" + big.ID},
		{name: "inactive is hidden", path: "/api/rooms/" + closed.ID, wantCode: http.StatusNotFound},
		{name: "inactive is visible to staff", path: "/api/rooms/" + closed.ID, token: app.token(t, owner)},
		{name: "unknown", path: "/api/rooms/lol", wantCode: http.StatusNotFound},
	})
}

func Test_roomApi_updateAndDelete(t *testing.T) {
	app := setup(t)

	owner, org := app.createProvider(t, "owner", "Hub")
	outsider, _ := app.createProvider(t, "outsider", "Elsewhere")
	rm := testutil.CreateRoom(t, app.roomRepo, org.ID, "Room A", 10, "20.00")
	path := "/api/rooms/" + rm.ID

	runHTTPTests(t, app, []httpTest{
		{name: "another organization", method: http.MethodPut, path: path, token: app.token(t, outsider), body: []byte(`{"name":"Lol"}`), wantCode: http.StatusForbidden},
		{name: "closes before opening", method: http.MethodPut, path: path, token: app.token(t, owner), body: []byte(`{"closes_at":"07:00"}`), wantCode: http.StatusBadRequest},
		{name: "negative rate", method: http.MethodPut, path: path, token: app.token(t, owner), body: []byte(`{"hourly_rate":"-1"}`), wantCode: http.StatusBadRequest},
	})

	t.Run("update", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPut, path, app.token(t, owner), []byte(`{"capacity":20,"hourly_rate":"25.00"}`)))
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
		var updated room.Room
		decode(t, rec, &updated)
		assert.Equal(t, 20, updated.Capacity)
		assert.True(t, decimal.RequireFromString("25").Equal(updated.HourlyRate))
		assert.Equal(t, rm.Name, updated.Name)
	})

	t.Run("delete", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodDelete, path, app.token(t, owner)))
		require.Equal(t, http.StatusNoContent, rec.Code, "body: %s", rec.Body.String())
		rec = app.do(newRequest(http.MethodGet, path))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_roomApi_amenitiesAndEquipment(t *testing.T) {
	app := setup(t)

	admin := app.createUser(t, "Admin", "admin", user.RoleAdmin)
	owner, org := app.createProvider(t, "owner", "Hub")
	rm := testutil.CreateRoom(t, app.roomRepo, org.ID, "Room A", 10, "20.00")

	var projector room.Amenity
	t.Run("admins manage the catalog", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/api/amenities", app.token(t, admin), []byte(`{"name":"Projector"}`)))
		require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
		decode(t, rec, &projector)
		assert.Equal(t, "Projector", projector.Name)
	})

	runHTTPTests(t, app, []httpTest{
		{name: "providers cannot add amenities", method: http.MethodPost, path: "/api/amenities", token: app.token(t, owner), body: []byte(`{"name":"Lol"}`), wantCode: http.StatusForbidden},
		{
			name: "duplicate amenity", method: http.MethodPost, path: "/api/amenities", token: app.token(t, admin), body: []byte(`{"name":"Projector"}`),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"name": room.ErrAmenityExists.Error()}),
		},
		{name: "list amenities", path: "/api/amenities", wantData: marshalList(t, projector)},
		{name: "equipment name required", method: http.MethodPost, path: "/api/rooms/" + rm.ID + "/equipment", token: app.token(t, owner), body: []byte(`{}`), wantCode: http.StatusBadRequest},
	})

	t.Run("set room amenities", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPut, "/api/rooms/"+rm.ID+"/amenities", app.token(t, owner),
			marshalObj(t, map[string][]string{"amenity_ids": {projector.ID}})))
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
		var updated room.Room
		decode(t, rec, &updated)
		assert.Equal(t, []room.Amenity{projector}, updated.Amenities)

		got := listIDs(t, app, "/api/rooms?amenity="+projector.ID, "")
		assert.Equal(t, []string{rm.ID}, got)
	})

	t.Run("add and remove equipment", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/api/rooms/"+rm.ID+"/equipment", app.token(t, owner), []byte(`{"name":"Whiteboard"}`)))
		require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
		var eq room.Equipment
		decode(t, rec, &eq)
		assert.Equal(t, 1, eq.Quantity)

		got, err := app.roomRepo.GetRoom(context.Background(), rm.ID)
		require.NoError(t, err)
		require.Len(t, got.Equipment, 1)

		rec = app.do(newAuthRequest(http.MethodDelete, "/api/rooms/"+rm.ID+"/equipment/"+eq.ID, app.token(t, owner)))
		require.Equal(t, http.StatusNoContent, rec.Code, "body: %s", rec.Body.String())
		got, err = app.roomRepo.GetRoom(context.Background(), rm.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Equipment)
	})
}

func Test_roomApi_uploadPhoto(t *testing.T) {
	app := setup(t)

	owner, org := app.createProvider(t, "owner", "Hub")
	customer := app.createUser(t, "Jane", "jane", user.RoleCustomer)
	rm := testutil.CreateRoom(t, app.roomRepo, org.ID, "Room A", 10, "20.00")
	path := "/api/rooms/" + rm.ID + "/photo"

	t.Run("customers cannot", func(t *testing.T) {
		rec := app.do(newUploadRequest(t, path, app.token(t, customer), "photo", "room.png", pngHeader))
		assert.Equal(t, http.StatusForbidden, rec.Code, "body: %s", rec.Body.String())
	})

	t.Run("not an image", func(t *testing.T) {
		rec := app.do(newUploadRequest(t, path, app.token(t, owner), "photo", "room.png", []byte("hello world")))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", rec.Body.String())
	})

	t.Run("missing file", func(t *testing.T) {
		rec := app.do(newUploadRequest(t, path, app.token(t, owner), "file", "room.png", pngHeader))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", rec.Body.String())
	})

	var first string
	t.Run("uploaded", func(t *testing.T) {
		rec := app.do(newUploadRequest(t, path, app.token(t, owner), "photo", "room.png", pngHeader))
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
		var updated room.Room
		decode(t, rec, &updated)
		first = updated.PhotoPath
		assert.Regexp(t, `^rooms/.+\.png$`, first)

		content, err := os.ReadFile(filepath.Join(app.conf.MediaDir, filepath.FromSlash(first)))
		require.NoError(t, err)
		assert.Equal(t, pngHeader, content)

		served := app.do(newRequest(http.MethodGet, "/media/"+first))
		assert.Equal(t, http.StatusOK, served.Code)
	})

	t.Run("replaced", func(t *testing.T) {
		rec := app.do(newUploadRequest(t, path, app.token(t, owner), "photo", "room.png", pngHeader))
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
		var updated room.Room
		decode(t, rec, &updated)
		assert.NotEqual(t, first, updated.PhotoPath)

		_, err := os.Stat(filepath.Join(app.conf.MediaDir, filepath.FromSlash(first)))
		assert.True(t, os.IsNotExist(err), "previous photo is removed")
	})
}
