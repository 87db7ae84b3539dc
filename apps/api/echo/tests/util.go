package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/roomly/apps/api/echo"
	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/billing"
	"github.com/trezcool/roomly/core/booking"
	"github.com/trezcool/roomly/core/notification"
	"github.com/trezcool/roomly/core/organization"
	"github.com/trezcool/roomly/core/room"
	"github.com/trezcool/roomly/core/user"
	emailsvc "github.com/trezcool/roomly/services/email"
	"github.com/trezcool/roomly/storage/database/sqlxrepos"
	"github.com/trezcool/roomly/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

// testApp is a Server wired to a fresh SQLite database.
type testApp struct {
	*echoapi.Server
	conf        *core.Config
	mailSvc     *emailsvc.ConsoleServiceMock
	usrRepo     user.Repository
	orgRepo     organization.Repository
	roomRepo    room.Repository
	bookingRepo booking.Repository
	notifRepo   notification.Repository
}

// setup starts a Server for the test. Rate limiting is disabled unless configure re-enables it.
func setup(t *testing.T, configure ...func(conf *core.Config)) *testApp {
	conf := testutil.NewConfig(t)
	conf.Server.RateLimit = 0
	for _, fn := range configure {
		fn(conf)
	}
	logger := testutil.NewLogger(conf)
	db := testutil.PrepareDB(t, conf)
	core.ParseEmailTemplates(conf, logger)

	app := &testApp{
		conf:        conf,
		mailSvc:     emailsvc.NewConsoleServiceMock(conf, logger),
		usrRepo:     sqlxrepos.NewUserRepository(db),
		orgRepo:     sqlxrepos.NewOrganizationRepository(db),
		roomRepo:    sqlxrepos.NewRoomRepository(db),
		bookingRepo: sqlxrepos.NewBookingRepository(db),
		notifRepo:   sqlxrepos.NewNotificationRepository(db),
	}

	validate := testutil.NewValidator()
	translator := core.NewTranslator()
	usrSvc := user.NewServiceMock(app.usrRepo, app.mailSvc, conf)
	notifSvc := notification.NewService(app.notifRepo, app.mailSvc)
	metrics := echoapi.NewMetrics()

	app.Server = echoapi.NewServer(echoapi.ServerDeps{
		Conf:            conf,
		Logger:          logger,
		Validate:        validate,
		Translator:      translator,
		Metrics:         metrics,
		UserSvc:         usrSvc,
		OrganizationSvc: organization.NewService(db, app.orgRepo, usrSvc, conf),
		RoomSvc:         room.NewService(db, app.roomRepo, app.orgRepo, conf),
		BookingSvc: booking.NewService(booking.ServiceDeps{
			DB:       db,
			Repo:     app.bookingRepo,
			UserSvc:  usrSvc,
			NotifSvc: notifSvc,
			Config:   conf,
			Logger:   logger,
			Metrics:  metrics,
		}),
		NotificationSvc: notifSvc,
		BillingSvc: billing.NewService(billing.ServiceDeps{
			DB:          db,
			Repo:        sqlxrepos.NewPaymentRepository(db),
			OrgRepo:     app.orgRepo,
			BookingRepo: app.bookingRepo,
			UserSvc:     usrSvc,
			NotifSvc:    notifSvc,
			MailSvc:     app.mailSvc,
			Config:      conf,
			Logger:      logger,
		}),
	})
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func (app *testApp) createUser(t *testing.T, name, uname string, roles ...string) user.User {
	return testutil.CreateUser(t, app.usrRepo, name, uname, uname+"@roomly.test", testutil.DefaultPassword, roles, true)
}

// createProvider creates an organization owned by a new provider owner.
func (app *testApp) createProvider(t *testing.T, uname, orgName string) (user.User, organization.Organization) {
	owner := app.createUser(t, "Owner "+uname, uname)
	org := testutil.CreateOrganization(t, app.orgRepo, app.usrRepo, orgName, organization.Slugify(orgName), &owner, 30*24*time.Hour)
	return owner, org
}

func (app *testApp) token(t *testing.T, usr user.User) string {
	token, err := echoapi.GenerateToken(app.conf, echoapi.GetUserClaims(app.conf, usr))
	require.NoError(t, err, "GenerateToken()")
	return token
}

// do serves the request and returns the recorded response.
func (app *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) *http.Request {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func newRequest(method, path string, data ...[]byte) *http.Request {
	return newAuthRequest(method, path, "", data...)
}

// newUploadRequest sends content as the multipart file field.
func newUploadRequest(t *testing.T, path, token, field, filename string, content []byte) *http.Request {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = io.Copy(part, bytes.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	require.NoError(t, err, "marshalObj()")
	return data
}

func marshalList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	require.NoError(t, err, "marshalList()")
	return data
}

// decode unmarshals the response body into v.
func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	l1, ok1 := j1.([]interface{})
	l2, ok2 := j2.([]interface{})
	if !ok1 || !ok2 {
		return false, nil
	}
	return assert.ElementsMatch(t, l1, l2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "code; body: %s", rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(newAuthRequest(tt.method, tt.path, tt.token, tt.body))
			checkCodeAndData(t, tt, rec)
		})
	}
}
