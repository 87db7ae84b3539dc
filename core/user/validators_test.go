package user

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roomly/core"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Debug(msg string, _ ...interface{}) {}
func (l testLogger) Info(msg string, _ ...interface{})  {}
func (l testLogger) Warn(msg string, _ ...interface{})  {}
func (l testLogger) Error(msg string, _ ...interface{}) { l.t.Error(msg) }
func (l testLogger) Fatal(msg string, _ ...interface{}) { l.t.Fatal(msg) }

func newValidator() *validator.Validate {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)
	return validate
}

// failedTag returns the tag of the first error on field, or "".
func failedTag(t *testing.T, err error, field string) string {
	t.Helper()
	if err == nil {
		return ""
	}
	var vErrs validator.ValidationErrors
	require.ErrorAs(t, err, &vErrs)
	for _, fe := range vErrs {
		if fe.Field() == field {
			return fe.Tag()
		}
	}
	return ""
}

func TestPasswordPolicy(t *testing.T) {
	LoadCommonPasswords(testLogger{t})
	validate := newValidator()

	tests := []struct {
		pwd     string
		wantTag string
	}{
		{pwd: "Ab#1", wantTag: pwdMinLenTag},
		{pwd: "Roomly #2021", wantTag: pwdNoSpaceTag},
		{pwd: "1234567890", wantTag: pwdNotAllNumTag},
		{pwd: "roomly#2021", wantTag: pwdComplexityTag},
		{pwd: "ROOMLY#2021", wantTag: pwdComplexityTag},
		{pwd: "Roomly#Rooms", wantTag: pwdComplexityTag},
		{pwd: "Roomly12021", wantTag: pwdComplexityTag},
		{pwd: "P@ssw0rd", wantTag: pwdNoCommonTag},
		{pwd: "Roomly#2021"},
		{pwd: "k1ns#Hasa-rooms"},
	}
	for _, tt := range tests {
		t.Run(tt.pwd, func(t *testing.T) {
			err := validate.Struct(ResetUserPassword{Token: "t", UID: "u", Password: tt.pwd, PasswordConfirm: tt.pwd})
			assert.Equal(t, tt.wantTag, failedTag(t, err, "password"))
		})
	}
}

func TestUserStructValidation(t *testing.T) {
	validate := newValidator()
	const pwd = "Roomly#2021"

	t.Run("username or email", func(t *testing.T) {
		err := validate.Struct(NewUser{Name: "Jane", Password: pwd, PasswordConfirm: pwd})
		assert.Equal(t, usernameOrEmailTag, failedTag(t, err, "username"))
		assert.Equal(t, usernameOrEmailTag, failedTag(t, err, "email"))

		err = validate.Struct(NewUser{Name: "Jane", Email: "jane@roomly.test", Password: pwd, PasswordConfirm: pwd})
		assert.NoError(t, err)
	})

	t.Run("too similar to attributes", func(t *testing.T) {
		err := validate.Struct(NewUser{Name: "Jane", Username: "janedoe", Password: "Janedoe#1", PasswordConfirm: "Janedoe#1"})
		assert.Equal(t, pwdAttrSimTag, failedTag(t, err, "password"))
	})

	t.Run("update without password", func(t *testing.T) {
		assert.NoError(t, validate.Struct(UpdateUser{Name: "Jane"}))
	})

	t.Run("unknown roles", func(t *testing.T) {
		err := validate.Struct(NewUser{Name: "Jane", Username: "jane", Password: pwd, PasswordConfirm: pwd, Roles: []string{RoleCustomer, "lol"}})
		assert.Equal(t, allRolesTag, failedTag(t, err, "roles"))
	})
}
