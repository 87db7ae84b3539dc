package organization_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/organization"
	"github.com/trezcool/roomly/core/user"
	emailsvc "github.com/trezcool/roomly/services/email"
	"github.com/trezcool/roomly/storage/database/sqlxrepos"
	"github.com/trezcool/roomly/tests"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Kinshasa Training Hub", "kinshasa-training-hub"},
		{"  Jane's   Rooms!! ", "jane-s-rooms"},
		{"École 42", "cole-42"},
		{"---", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, organization.Slugify(tt.name))
		})
	}
}

func TestCanManage(t *testing.T) {
	tests := []struct {
		name string
		usr  user.User
		want bool
	}{
		{name: "admin", usr: user.User{Roles: []string{user.RoleAdmin}}, want: true},
		{name: "owner", usr: user.User{OrganizationID: "hub", Roles: []string{user.RoleProviderOwner}}, want: true},
		{name: "owner of another", usr: user.User{OrganizationID: "other", Roles: []string{user.RoleProviderOwner}}},
		{name: "staff", usr: user.User{OrganizationID: "hub", Roles: []string{user.RoleProvider}}},
		{name: "customer", usr: user.User{Roles: []string{user.RoleCustomer}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, organization.CanManage(tt.usr, "hub"))
		})
	}
}

type fixture struct {
	svc     organization.Service
	repo    organization.Repository
	usrRepo user.Repository
}

func setup(t *testing.T) *fixture {
	conf := testutil.NewConfig(t)
	logger := testutil.NewLogger(conf)
	db := testutil.PrepareDB(t, conf)

	f := &fixture{
		repo:    sqlxrepos.NewOrganizationRepository(db),
		usrRepo: sqlxrepos.NewUserRepository(db),
	}
	usrSvc := user.NewServiceMock(f.usrRepo, emailsvc.NewConsoleServiceMock(conf, logger), conf)
	f.svc = organization.NewService(db, f.repo, usrSvc, conf)
	return f
}

func (f *fixture) createUser(t *testing.T, uname string, roles ...string) user.User {
	return testutil.CreateUser(t, f.usrRepo, uname, uname, uname+"@roomly.test", testutil.DefaultPassword, roles, true)
}

func TestNewOrganization_Validate(t *testing.T) {
	f := setup(t)
	validate := testutil.NewValidator()
	owner := f.createUser(t, "owner")
	testutil.CreateOrganization(t, f.repo, f.usrRepo, "Hub", "hub", &owner, time.Hour)

	tests := []struct {
		name      string
		no        organization.NewOrganization
		wantSlug  string
		wantField string
	}{
		{name: "slug from name", no: organization.NewOrganization{Name: " Big Rooms "}, wantSlug: "big-rooms"},
		{name: "slug lowered", no: organization.NewOrganization{Name: "Lol", Slug: "My-Rooms"}, wantSlug: "my-rooms"},
		{name: "name required", no: organization.NewOrganization{}, wantField: "name"},
		{name: "invalid slug", no: organization.NewOrganization{Name: "Lol", Slug: "lol rooms"}, wantField: "slug"},
		{name: "invalid email", no: organization.NewOrganization{Name: "Lol", Email: "lol"}, wantField: "email"},
		{name: "slug taken", no: organization.NewOrganization{Name: "HUB"}, wantField: "slug"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.no.Validate(context.Background(), validate, f.svc)
			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantSlug, tt.no.Slug)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}

func TestCreate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	admin := f.createUser(t, "admin", user.RoleAdmin)
	jane := f.createUser(t, "jane", user.RoleCustomer)
	john := f.createUser(t, "john", user.RoleCustomer)

	t.Run("creator owns it", func(t *testing.T) {
		org, err := f.svc.Create(ctx, organization.NewOrganization{Name: "Jane's", Slug: "janes"}, jane)
		require.NoError(t, err)
		assert.Equal(t, jane.ID, org.OwnerID)
		assert.Equal(t, organization.PlanTrial, org.Plan)
		require.NotNil(t, org.TrialEndsAt)
		assert.WithinDuration(t, *org.TrialEndsAt, org.PaymentDueDate, time.Second)
		assert.True(t, org.PaymentExtensionDate.After(org.PaymentDueDate))

		owner, err := f.usrRepo.GetUser(ctx, user.GetFilter{ID: jane.ID})
		require.NoError(t, err)
		assert.Equal(t, org.ID, owner.OrganizationID)
		assert.True(t, owner.IsProviderOwner())
	})

	t.Run("one organization per owner", func(t *testing.T) {
		owner, err := f.usrRepo.GetUser(ctx, user.GetFilter{ID: jane.ID})
		require.NoError(t, err)
		_, err = f.svc.Create(ctx, organization.NewOrganization{Name: "Again", Slug: "again"}, owner)
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
	})

	t.Run("only admins create for others", func(t *testing.T) {
		_, err := f.svc.Create(ctx, organization.NewOrganization{Name: "Lol", Slug: "lol", OwnerID: john.ID}, jane)
		assert.Equal(t, core.ErrPermissionDenied, err)

		org, err := f.svc.Create(ctx, organization.NewOrganization{Name: "John's", Slug: "johns", OwnerID: john.ID}, admin)
		require.NoError(t, err)
		assert.Equal(t, john.ID, org.OwnerID)
	})

	t.Run("admins cannot own one", func(t *testing.T) {
		_, err := f.svc.Create(ctx, organization.NewOrganization{Name: "Admin's", Slug: "admins"}, admin)
		var vErr *core.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "owner_id", vErr.Fields[0].Field)
	})
}

func TestMembers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	owner := f.createUser(t, "owner")
	org := testutil.CreateOrganization(t, f.repo, f.usrRepo, "Hub", "hub", &owner, time.Hour)
	jane := f.createUser(t, "jane", user.RoleCustomer)
	admin := f.createUser(t, "admin", user.RoleAdmin)

	_, err := f.svc.AddMember(ctx, org.ID, jane.ID, jane)
	assert.Equal(t, core.ErrPermissionDenied, err)
	_, err = f.svc.AddMember(ctx, org.ID, admin.ID, owner)
	assert.Error(t, err, "admins cannot join")

	staff, err := f.svc.AddMember(ctx, org.ID, jane.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, org.ID, staff.OrganizationID)
	assert.True(t, staff.HasRole(user.RoleProvider))

	again, err := f.svc.AddMember(ctx, org.ID, jane.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, staff.Roles, again.Roles, "adding twice is a no-op")

	members, err := f.svc.Members(ctx, org.ID, staff)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	_, err = f.svc.RemoveMember(ctx, org.ID, owner.ID, owner)
	assert.Error(t, err, "the owner stays")
	_, err = f.svc.RemoveMember(ctx, org.ID, jane.ID, staff)
	assert.Equal(t, core.ErrPermissionDenied, err)

	removed, err := f.svc.RemoveMember(ctx, org.ID, jane.ID, owner)
	require.NoError(t, err)
	assert.Empty(t, removed.OrganizationID)
	assert.False(t, removed.IsProvider())

	_, err = f.svc.Members(ctx, org.ID, removed)
	assert.Equal(t, core.ErrPermissionDenied, err)
	_, err = f.svc.RemoveMember(ctx, org.ID, jane.ID, owner)
	assert.True(t, core.IsNotFound(err))
}
