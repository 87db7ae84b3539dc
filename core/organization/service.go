package organization

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/user"
)

var (
	// errors
	ErrNotFound   = core.NewNotFoundError("organization not found")
	ErrSlugExists = errors.New("an organization with this slug already exists")
	ErrInactive   = errors.New("organization is inactive")
)

type (
	Repository interface {
		// CheckSlugUniqueness returns ErrSlugExists if another Organization, besides the excludedOrgs, already uses the slug.
		CheckSlugUniqueness(ctx context.Context, slug string, excludedOrgs []Organization, exec ...core.DBExecutor) error
		CreateOrganization(ctx context.Context, org Organization, exec ...core.DBExecutor) (Organization, error)
		// QueryOrganizations applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Organization.Name, Slug or City.
		QueryOrganizations(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Organization, error)
		GetOrganization(ctx context.Context, id string, exec ...core.DBExecutor) (Organization, error)
		UpdateOrganization(ctx context.Context, org Organization, exec ...core.DBExecutor) (Organization, error)
		DeleteOrganization(ctx context.Context, id string, exec ...core.DBExecutor) error
	}

	Service interface {
		CheckSlugUniqueness(ctx context.Context, slug string, exclOrgs ...Organization) error
		Create(ctx context.Context, no NewOrganization, actor user.User) (Organization, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Organization, error)
		GetByID(ctx context.Context, id string) (Organization, error)
		Update(ctx context.Context, org Organization, uo UpdateOrganization, actor user.User) (Organization, error)
		Delete(ctx context.Context, id string, actor user.User) error
		Members(ctx context.Context, orgID string, actor user.User) ([]user.User, error)
		AddMember(ctx context.Context, orgID, userID string, actor user.User) (user.User, error)
		RemoveMember(ctx context.Context, orgID, userID string, actor user.User) (user.User, error)
	}

	service struct {
		db      core.DB
		repo    Repository
		usrSvc  user.Service
		billing core.BillingConfig
	}
)

var _ Service = (*service)(nil)

func NewService(db core.DB, repo Repository, usrSvc user.Service, conf *core.Config) Service {
	return &service{
		db:      db,
		repo:    repo,
		usrSvc:  usrSvc,
		billing: conf.Billing,
	}
}

// CanManage reports whether usr may modify the organization with the given ID.
func CanManage(usr user.User, orgID string) bool {
	return usr.IsAdmin() || (usr.BelongsTo(orgID) && usr.IsProviderOwner())
}

func (svc *service) CheckSlugUniqueness(ctx context.Context, slug string, exclOrgs ...Organization) error {
	if err := svc.repo.CheckSlugUniqueness(ctx, slug, exclOrgs); err != nil {
		if errors.Cause(err) == ErrSlugExists {
			return core.NewValidationError(err, core.FieldError{Field: "slug", Error: ErrSlugExists.Error()})
		}
		return errors.Wrap(err, "checking slug uniqueness")
	}
	return nil
}

// Create registers a new Organization on a trial and makes its owner a provider:owner.
// Only platform admins may create an Organization on behalf of another user.
func (svc *service) Create(ctx context.Context, no NewOrganization, actor user.User) (Organization, error) {
	ownerID := actor.ID
	if no.OwnerID != "" && no.OwnerID != actor.ID {
		if !actor.IsAdmin() {
			return Organization{}, core.ErrPermissionDenied
		}
		ownerID = no.OwnerID
	}
	owner, err := svc.usrSvc.GetByID(ctx, ownerID)
	if err != nil {
		if core.IsNotFound(err) {
			return Organization{}, core.NewValidationError(err, core.FieldError{Field: "owner_id", Error: "user not found"})
		}
		return Organization{}, errors.Wrap(err, "getting owner")
	}
	if owner.IsAdmin() {
		return Organization{}, core.NewValidationError(nil, core.FieldError{Field: "owner_id", Error: "platform admins cannot own an organization"})
	}
	if owner.OrganizationID != "" {
		return Organization{}, core.NewValidationError(nil, core.FieldError{Field: "owner_id", Error: "user already belongs to an organization"})
	}

	now := time.Now().UTC()
	due := now.Add(svc.billing.TrialDelta)
	org := Organization{
		ID:                   uuid.NewString(),
		Name:                 no.Name,
		Slug:                 no.Slug,
		Email:                no.Email,
		Phone:                no.Phone,
		Address:              no.Address,
		City:                 no.City,
		Latitude:             no.Latitude,
		Longitude:            no.Longitude,
		OwnerID:              owner.ID,
		IsActive:             true,
		Plan:                 PlanTrial,
		TrialEndsAt:          &due,
		PaymentDueDate:       due,
		PaymentExtensionDate: due.Add(svc.billing.ExtensionDelta),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err = core.RunInTx(ctx, svc.db, nil, func(tx core.DBExecutor) error {
		var txErr error
		if org, txErr = svc.repo.CreateOrganization(ctx, org, tx); txErr != nil {
			return errors.Wrap(txErr, "creating organization")
		}
		_, txErr = svc.usrSvc.SetOrganization(ctx, owner, org.ID, []string{user.RoleProviderOwner}, tx)
		return errors.Wrap(txErr, "setting owner organization")
	})
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Organization, error) {
	if filter != nil {
		filter.Clean()
	}
	return svc.repo.QueryOrganizations(ctx, filter, ordering)
}

func (svc *service) GetByID(ctx context.Context, id string) (Organization, error) {
	return svc.repo.GetOrganization(ctx, id)
}

func (svc *service) Update(ctx context.Context, org Organization, uo UpdateOrganization, actor user.User) (Organization, error) {
	if !CanManage(actor, org.ID) {
		return Organization{}, core.ErrPermissionDenied
	}
	org.Name = uo.Name
	org.Slug = uo.Slug
	org.Email = uo.Email
	if uo.Phone != nil {
		org.Phone = core.CleanString(*uo.Phone)
	}
	if uo.Address != nil {
		org.Address = core.CleanString(*uo.Address)
	}
	if uo.City != nil {
		org.City = core.CleanString(*uo.City)
	}
	if uo.Latitude != nil {
		org.Latitude = *uo.Latitude
	}
	if uo.Longitude != nil {
		org.Longitude = *uo.Longitude
	}
	org.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateOrganization(ctx, org)
}

func (svc *service) Delete(ctx context.Context, id string, actor user.User) error {
	if !actor.IsAdmin() {
		return core.ErrPermissionDenied
	}
	return svc.repo.DeleteOrganization(ctx, id)
}

func (svc *service) Members(ctx context.Context, orgID string, actor user.User) ([]user.User, error) {
	if !actor.IsAdmin() && !actor.BelongsTo(orgID) {
		return nil, core.ErrPermissionDenied
	}
	return svc.usrSvc.Query(ctx, &user.QueryFilter{OrganizationID: orgID}, []core.DBOrdering{{Field: "name", Ascending: true}})
}

// AddMember attaches a user to the organization's staff with the provider: role.
func (svc *service) AddMember(ctx context.Context, orgID, userID string, actor user.User) (user.User, error) {
	if !CanManage(actor, orgID) {
		return user.User{}, core.ErrPermissionDenied
	}
	if _, err := svc.repo.GetOrganization(ctx, orgID); err != nil {
		return user.User{}, err
	}
	usr, err := svc.usrSvc.GetByID(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	if usr.IsAdmin() {
		return user.User{}, core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: "platform admins cannot join an organization"})
	}
	if usr.OrganizationID != "" && usr.OrganizationID != orgID {
		return user.User{}, core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: "user already belongs to another organization"})
	}
	if usr.OrganizationID == orgID {
		return usr, nil
	}
	return svc.usrSvc.SetOrganization(ctx, usr, orgID, []string{user.RoleProvider})
}

// RemoveMember detaches a user from the organization's staff. The owner cannot be removed.
func (svc *service) RemoveMember(ctx context.Context, orgID, userID string, actor user.User) (user.User, error) {
	if !CanManage(actor, orgID) {
		return user.User{}, core.ErrPermissionDenied
	}
	usr, err := svc.usrSvc.GetByID(ctx, userID)
	if err != nil {
		return user.User{}, err
	}
	if usr.OrganizationID != orgID {
		return user.User{}, user.ErrNotFound
	}
	if usr.HasRole(user.RoleProviderOwner) {
		return user.User{}, core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: "the owner cannot be removed"})
	}
	return svc.usrSvc.SetOrganization(ctx, usr, "", nil)
}
