package tests

import (
	"context"
	"net/http"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/roomly/apps/api/echo"
	"github.com/trezcool/roomly/core/user"
	"github.com/trezcool/roomly/tests"
)

// listIDs GETs a list endpoint and returns the IDs of the listed objects.
func listIDs(t *testing.T, app *testApp, path, token string) []string {
	t.Helper()
	rec := app.do(newAuthRequest(http.MethodGet, path, token))
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	var objs []struct {
		ID string `json:"id"`
	}
	decode(t, rec, &objs)
	ids := make([]string, 0, len(objs))
	for _, o := range objs {
		ids = append(ids, o.ID)
	}
	return ids
}

func Test_userApi_login(t *testing.T) {
	app := setup(t)

	usr := app.createUser(t, "Jane", "jane", user.RoleCustomer)
	testutil.CreateUser(t, app.usrRepo, "Gone", "gone", "gone@roomly.test", testutil.DefaultPassword, nil, false)

	failed := marshalObj(t, httpErr{Error: "authentication failed"})
	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, echoapi.LoginRequest{Username: "this field is required", Password: "this field is required"}),
		},
		{
			name: "unknown user", wantCode: http.StatusBadRequest, wantData: failed,
			body: marshalObj(t, echoapi.LoginRequest{Username: "lol", Password: testutil.DefaultPassword}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest, wantData: failed,
			body: marshalObj(t, echoapi.LoginRequest{Username: usr.Username, Password: "lol"}),
		},
		{
			name: "deactivated account", wantCode: http.StatusForbidden,
			body:     marshalObj(t, echoapi.LoginRequest{Username: "gone", Password: testutil.DefaultPassword}),
			wantData: marshalObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/users/login"
	}
	runHTTPTests(t, app, tests)

	for _, uname := range []string{usr.Username, strings.ToUpper(usr.Email)} {
		t.Run("login with "+uname, func(t *testing.T) {
			rec := app.do(newRequest(http.MethodPost, "/api/users/login",
				marshalObj(t, echoapi.LoginRequest{Username: uname, Password: testutil.DefaultPassword})))
			require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

			var resp echoapi.LoginResponse
			decode(t, rec, &resp)
			assert.NotEmpty(t, resp.Token)

			refreshed, err := app.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
			require.NoError(t, err)
			assert.False(t, refreshed.LastLogin.IsZero(), "last login set")
		})
	}
}

func Test_userApi_signup(t *testing.T) {
	app := setup(t)
	app.createUser(t, "Taken", "taken")

	t.Run("username taken", func(t *testing.T) {
		rec := app.do(newRequest(http.MethodPost, "/api/users/signup", marshalObj(t, user.NewUser{
			Name: "Other", Username: "taken", Password: testutil.DefaultPassword, PasswordConfirm: testutil.DefaultPassword,
		})))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var fields map[string]string
		decode(t, rec, &fields)
		assert.Contains(t, fields, "username")
	})

	t.Run("password mismatch", func(t *testing.T) {
		rec := app.do(newRequest(http.MethodPost, "/api/users/signup", marshalObj(t, user.NewUser{
			Name: "Jane", Username: "jane", Password: testutil.DefaultPassword, PasswordConfirm: "lol",
		})))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var fields map[string]string
		decode(t, rec, &fields)
		assert.Contains(t, fields, "password_confirm")
	})

	t.Run("signed up as customer", func(t *testing.T) {
		// roles given by the client are ignored
		rec := app.do(newRequest(http.MethodPost, "/api/users/signup", marshalObj(t, user.NewUser{
			Name: "Jane", Username: "Jane", Email: "jane@roomly.test",
			Password: testutil.DefaultPassword, PasswordConfirm: testutil.DefaultPassword,
			Roles: []string{user.RoleAdmin},
		})))
		require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

		var resp echoapi.SignupResponse
		decode(t, rec, &resp)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, "jane", resp.User.Username)
		assert.Equal(t, []string{user.RoleCustomer}, resp.User.Roles)
		assert.True(t, resp.User.IsActive)
	})
}

func Test_userApi_query(t *testing.T) {
	app := setup(t)

	admin := app.createUser(t, "Admin", "admin", user.RoleAdmin)
	customer := app.createUser(t, "Jane", "jane", user.RoleCustomer)
	owner, org := app.createProvider(t, "owner", "Hub")
	naughty := testutil.CreateUser(t, app.usrRepo, "N Dog", "ndog", "ndog@roomly.test", "", []string{user.RoleCustomer}, false)

	adminToken := app.token(t, admin)

	path := func(v url.Values) string { return "/api/users?" + v.Encode() }

	runHTTPTests(t, app, []httpTest{
		{name: "auth required", path: "/api/users", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{
			name: "admin required", path: "/api/users", token: app.token(t, customer), wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "invalid is_active", path: path(url.Values{"is_active": {"lol"}}), token: adminToken,
			wantCode: http.StatusBadRequest,
		},
	})

	tests := []struct {
		name  string
		query url.Values
		want  []string
	}{
		{name: "all", query: url.Values{}, want: []string{admin.ID, customer.ID, owner.ID, naughty.ID}},
		{name: "search", query: url.Values{"search": {"JAN"}}, want: []string{customer.ID}},
		{name: "role", query: url.Values{"role": {user.RoleCustomer}}, want: []string{customer.ID, naughty.ID}},
		{name: "roles (comma separated)", query: url.Values{"role": {user.RoleAdmin + "," + user.RoleProviderOwner}}, want: []string{admin.ID, owner.ID}},
		{name: "is_active=false", query: url.Values{"is_active": {"false"}}, want: []string{naughty.ID}},
		{name: "organization", query: url.Values{"organization_id": {org.ID}}, want: []string{owner.ID}},
		{name: "unknown role", query: url.Values{"role": {"lol"}}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, listIDs(t, app, path(tt.query), adminToken))
		})
	}

	t.Run("ordering", func(t *testing.T) {
		got := listIDs(t, app, path(url.Values{"ordering": {"-name"}}), adminToken)
		assert.Equal(t, []string{owner.ID, naughty.ID, customer.ID, admin.ID}, got)
	})
}

func Test_userApi_retrieveAndUpdate(t *testing.T) {
	app := setup(t)

	admin := app.createUser(t, "Admin", "admin", user.RoleAdmin)
	jane := app.createUser(t, "Jane", "jane", user.RoleCustomer)
	john := app.createUser(t, "John", "john", user.RoleCustomer)
	janeToken := app.token(t, jane)

	runHTTPTests(t, app, []httpTest{
		{name: "own profile", method: http.MethodGet, path: "/api/users/" + jane.ID, token: janeToken},
		{name: "another's profile", method: http.MethodGet, path: "/api/users/" + john.ID, token: janeToken, wantCode: http.StatusNotFound},
		{name: "admin sees all", method: http.MethodGet, path: "/api/users/" + john.ID, token: app.token(t, admin)},
		{name: "unknown user", method: http.MethodGet, path: "/api/users/lol", token: app.token(t, admin), wantCode: http.StatusNotFound},
		{
			name: "cannot change own roles", method: http.MethodPut, path: "/api/users/" + jane.ID, token: janeToken,
			body: []byte(`{"roles":["admin:"]}`), wantCode: http.StatusForbidden,
		},
		{
			name: "cannot deactivate self", method: http.MethodPut, path: "/api/users/" + jane.ID, token: janeToken,
			body: []byte(`{"is_active":false}`), wantCode: http.StatusForbidden,
		},
		{
			name: "email taken", method: http.MethodPut, path: "/api/users/" + jane.ID, token: janeToken,
			body: marshalObj(t, map[string]string{"email": john.Email}), wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
		},
	})

	t.Run("update own name", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPut, "/api/users/"+jane.ID, janeToken, []byte(`{"name":"Jane Doe"}`)))
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
		var usr user.User
		decode(t, rec, &usr)
		assert.Equal(t, "Jane Doe", usr.Name)
		assert.Equal(t, jane.Username, usr.Username)
	})
}

func Test_userApi_destroy(t *testing.T) {
	app := setup(t)

	owner := app.createUser(t, "Big Boss", "boss", user.RoleAdminOwner)
	admin := app.createUser(t, "Admin", "admin", user.RoleAdmin)
	jane := app.createUser(t, "Jane", "jane", user.RoleCustomer)
	john := app.createUser(t, "John", "john", user.RoleCustomer)
	adminToken := app.token(t, admin)

	runHTTPTests(t, app, []httpTest{
		{name: "admin required", method: http.MethodDelete, path: "/api/users/" + jane.ID, token: app.token(t, jane), wantCode: http.StatusForbidden},
		{name: "cannot delete self", method: http.MethodDelete, path: "/api/users/" + admin.ID, token: adminToken, wantCode: http.StatusForbidden},
		{name: "cannot delete a superior", method: http.MethodDelete, path: "/api/users/" + owner.ID, token: adminToken, wantCode: http.StatusForbidden},
		{name: "deleted", method: http.MethodDelete, path: "/api/users/" + jane.ID, token: adminToken, wantCode: http.StatusNoContent},
		{name: "gone", method: http.MethodGet, path: "/api/users/" + jane.ID, token: adminToken, wantCode: http.StatusNotFound},
		{
			name: "multiple: cannot include self", method: http.MethodDelete, path: "/api/users?id=" + john.ID + "&id=" + admin.ID,
			token: adminToken, wantCode: http.StatusForbidden,
		},
		{name: "multiple", method: http.MethodDelete, path: "/api/users?id=" + john.ID, token: adminToken, wantCode: http.StatusNoContent},
	})

	assert.ElementsMatch(t, []string{owner.ID, admin.ID}, listIDs(t, app, "/api/users", adminToken))
}

func Test_userApi_refreshToken(t *testing.T) {
	app := setup(t)

	naughty := testutil.CreateUser(t, app.usrRepo, "N Dog", "ndog", "ndog@roomly.test", "", []string{user.RoleCustomer}, false)
	jane := app.createUser(t, "Jane", "jane", user.RoleCustomer)

	// first issued longer ago than the refresh period
	claims := echoapi.GetUserClaims(app.conf, jane, time.Now().Add(-2*app.conf.Server.JWTRefreshExpirationDelta).Unix())
	unrefreshable, err := echoapi.GenerateToken(app.conf, claims)
	require.NoError(t, err)

	expired := echoapi.GetUserClaims(app.conf, jane)
	expired.StandardClaims = jwt.StandardClaims{Subject: jane.ID, ExpiresAt: time.Now().Add(-time.Minute).Unix()}
	expiredToken, err := echoapi.GenerateToken(app.conf, expired)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "expired token", token: expiredToken, wantCode: http.StatusUnauthorized},
		{name: "inactive user", token: app.token(t, naughty), wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "account deactivated"})},
		{name: "refresh period over", token: unrefreshable, wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "refresh has expired"})},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/users/token-refresh"
	}
	runHTTPTests(t, app, tests)

	t.Run("refreshed", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodPost, "/api/users/token-refresh", app.token(t, jane)))
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
		var resp echoapi.LoginResponse
		decode(t, rec, &resp)
		assert.NotEmpty(t, resp.Token)
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	app := setup(t)

	jane := app.createUser(t, "Jane", "jane", user.RoleCustomer)
	success := marshalObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})
	pathRegex := regexp.MustCompile("/password-reset/.+/.+")

	tests := []struct {
		httpTest
		emailSent bool
	}{
		{httpTest: httpTest{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, echoapi.PasswordResetRequest{Email: "this field is required"}),
		}},
		{httpTest: httpTest{
			name: "invalid email", wantCode: http.StatusBadRequest, body: marshalObj(t, echoapi.PasswordResetRequest{Email: "lol"}),
			wantData: marshalObj(t, echoapi.PasswordResetRequest{Email: "email must be a valid email address"}),
		}},
		{httpTest: httpTest{
			name: "unknown email", wantCode: http.StatusOK, wantData: success,
			body: marshalObj(t, echoapi.PasswordResetRequest{Email: "lol@roomly.test"}),
		}},
		{httpTest: httpTest{
			name: "known email", wantCode: http.StatusOK, wantData: success,
			body: marshalObj(t, echoapi.PasswordResetRequest{Email: jane.Email}),
		}, emailSent: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app.mailSvc.Reset()

			rec := app.do(newRequest(http.MethodPost, "/api/users/password-reset", tt.body))
			checkCodeAndData(t, tt.httpTest, rec)

			sent := app.mailSvc.SentMessages()
			if !tt.emailSent {
				assert.Empty(t, sent)
				return
			}
			require.Len(t, sent, 1)
			msg := sent[0]
			assert.Equal(t, mail.Address{Name: jane.Name, Address: jane.Email}, msg.To[0])
			assert.Contains(t, msg.TextContent, jane.Name)
			assert.Regexp(t, pathRegex, msg.TextContent)
			assert.Regexp(t, pathRegex, msg.HTMLContent)
		})
	}
}

func Test_userApi_confirmPasswordReset(t *testing.T) {
	app := setup(t)

	jane := app.createUser(t, "Jane", "jane", user.RoleCustomer)
	validUID := user.EncodeUID(jane)
	validToken := user.MakeToken(jane)
	newPwd := "LolC@t123"

	tests := []httpTest{
		{
			name: "invalid password", wantCode: http.StatusBadRequest,
			body:     marshalObj(t, user.ResetUserPassword{Token: "lol", UID: "lol", Password: "lol", PasswordConfirm: "lol"}),
			wantData: marshalObj(t, user.ResetUserPassword{Password: "password must contain at least 8 characters"}),
		},
		{
			name: "invalid uid", wantCode: http.StatusBadRequest,
			body:     marshalObj(t, user.ResetUserPassword{Token: "lol", UID: "bG9s", Password: newPwd, PasswordConfirm: newPwd}),
			wantData: marshalObj(t, user.ResetUserPassword{UID: "invalid value"}),
		},
		{
			name: "invalid token", wantCode: http.StatusBadRequest,
			body:     marshalObj(t, user.ResetUserPassword{Token: "HE4TS-sigsig", UID: validUID, Password: newPwd, PasswordConfirm: newPwd}),
			wantData: marshalObj(t, user.ResetUserPassword{Token: "invalid value"}),
		},
		{
			name: "valid token", wantCode: http.StatusOK,
			body:     marshalObj(t, user.ResetUserPassword{Token: validToken, UID: validUID, Password: newPwd, PasswordConfirm: newPwd}),
			wantData: marshalObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."}),
		},
		{
			name: "token used up", wantCode: http.StatusBadRequest,
			body:     marshalObj(t, user.ResetUserPassword{Token: validToken, UID: validUID, Password: newPwd, PasswordConfirm: newPwd}),
			wantData: marshalObj(t, user.ResetUserPassword{Token: "invalid value"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/api/users/password-reset-confirm"
	}
	runHTTPTests(t, app, tests)

	refreshed, err := app.usrRepo.GetUser(context.Background(), user.GetFilter{ID: jane.ID})
	require.NoError(t, err)
	assert.NoError(t, refreshed.CheckPassword(newPwd))
}
