package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/organization"
)

var (
	orgColumns = []string{
		"id", "name", "slug", "email", "phone", "address", "city", "latitude", "longitude", "owner_id",
		"is_active", "plan", "trial_ends_at", "payment_due_date", "payment_extension_date", "created_at", "updated_at",
	}
	orgOrderings = map[string]string{
		"name":             "name",
		"city":             "city",
		"created_at":       "created_at",
		"payment_due_date": "payment_due_date",
	}
)

type orgRow struct {
	ID                   string      `db:"id"`
	Name                 string      `db:"name"`
	Slug                 string      `db:"slug"`
	Email                string      `db:"email"`
	Phone                string      `db:"phone"`
	Address              string      `db:"address"`
	City                 string      `db:"city"`
	Latitude             float64     `db:"latitude"`
	Longitude            float64     `db:"longitude"`
	OwnerID              null.String `db:"owner_id"`
	IsActive             bool        `db:"is_active"`
	Plan                 string      `db:"plan"`
	TrialEndsAt          null.Time   `db:"trial_ends_at"`
	PaymentDueDate       time.Time   `db:"payment_due_date"`
	PaymentExtensionDate time.Time   `db:"payment_extension_date"`
	CreatedAt            time.Time   `db:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at"`
}

func newOrgRow(org organization.Organization) orgRow {
	row := orgRow{
		ID:                   org.ID,
		Name:                 org.Name,
		Slug:                 org.Slug,
		Email:                org.Email,
		Phone:                org.Phone,
		Address:              org.Address,
		City:                 org.City,
		Latitude:             org.Latitude,
		Longitude:            org.Longitude,
		OwnerID:              null.NewString(org.OwnerID, org.OwnerID != ""),
		IsActive:             org.IsActive,
		Plan:                 org.Plan,
		PaymentDueDate:       org.PaymentDueDate.UTC(),
		PaymentExtensionDate: org.PaymentExtensionDate.UTC(),
		CreatedAt:            org.CreatedAt.UTC(),
		UpdatedAt:            org.UpdatedAt.UTC(),
	}
	if org.TrialEndsAt != nil {
		row.TrialEndsAt = null.TimeFrom(org.TrialEndsAt.UTC())
	}
	return row
}

func (row orgRow) toOrganization() organization.Organization {
	org := organization.Organization{
		ID:                   row.ID,
		Name:                 row.Name,
		Slug:                 row.Slug,
		Email:                row.Email,
		Phone:                row.Phone,
		Address:              row.Address,
		City:                 row.City,
		Latitude:             row.Latitude,
		Longitude:            row.Longitude,
		OwnerID:              row.OwnerID.String,
		IsActive:             row.IsActive,
		Plan:                 row.Plan,
		PaymentDueDate:       row.PaymentDueDate.UTC(),
		PaymentExtensionDate: row.PaymentExtensionDate.UTC(),
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
	if row.TrialEndsAt.Valid {
		t := row.TrialEndsAt.Time.UTC()
		org.TrialEndsAt = &t
	}
	return org
}

func (row orgRow) values() map[string]interface{} {
	return map[string]interface{}{
		"name":                   row.Name,
		"slug":                   row.Slug,
		"email":                  row.Email,
		"phone":                  row.Phone,
		"address":                row.Address,
		"city":                   row.City,
		"latitude":               row.Latitude,
		"longitude":              row.Longitude,
		"owner_id":               row.OwnerID,
		"is_active":              row.IsActive,
		"plan":                   row.Plan,
		"trial_ends_at":          row.TrialEndsAt,
		"payment_due_date":       row.PaymentDueDate,
		"payment_extension_date": row.PaymentExtensionDate,
		"updated_at":             row.UpdatedAt,
	}
}

type organizationRepository struct {
	baseRepository
}

var _ organization.Repository = (*organizationRepository)(nil)

func NewOrganizationRepository(db core.DBExecutor) organization.Repository {
	return &organizationRepository{baseRepository{db: db}}
}

func (repo *organizationRepository) CheckSlugUniqueness(ctx context.Context, slug string, excludedOrgs []organization.Organization, exec ...core.DBExecutor) error {
	q := sq.Select("id").From("organizations").Where(sq.Eq{"slug": slug}).Limit(1)
	if len(excludedOrgs) > 0 {
		ids := make([]string, 0, len(excludedOrgs))
		for _, org := range excludedOrgs {
			ids = append(ids, org.ID)
		}
		q = q.Where(sq.NotEq{"id": ids})
	}

	var id string
	switch err := get(ctx, repo.executor(exec), &id, q, errNoRow); err {
	case errNoRow:
		return nil
	case nil:
		return organization.ErrSlugExists
	default:
		return err
	}
}

func (repo *organizationRepository) CreateOrganization(ctx context.Context, org organization.Organization, exec ...core.DBExecutor) (organization.Organization, error) {
	if org.ID == "" {
		org.ID = newID()
	}
	row := newOrgRow(org)
	vals := row.values()
	vals["id"] = row.ID
	vals["created_at"] = row.CreatedAt

	if _, err := execute(ctx, repo.executor(exec), sq.Insert("organizations").SetMap(vals)); err != nil {
		if isUniqueViolation(err) {
			return organization.Organization{}, organization.ErrSlugExists
		}
		return organization.Organization{}, errors.Wrap(err, "inserting organization")
	}
	return row.toOrganization(), nil
}

func (repo *organizationRepository) QueryOrganizations(ctx context.Context, filter *organization.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]organization.Organization, error) {
	q := sq.Select(orgColumns...).From("organizations")
	if filter != nil {
		filter.Clean()
		if filter.Search != "" {
			pattern := like(filter.Search)
			q = q.Where(sq.Or{
				sq.Like{"LOWER(name)": pattern},
				sq.Like{"LOWER(slug)": pattern},
				sq.Like{"LOWER(city)": pattern},
			})
		}
		if filter.City != "" {
			q = q.Where(sq.Expr("LOWER(city) = LOWER(?)", filter.City))
		}
		if filter.IsActive != nil {
			q = q.Where(sq.Eq{"is_active": *filter.IsActive})
		}
	}
	q = orderBy(q, ordering, orgOrderings, "name ASC")

	var rows []orgRow
	if err := selectAll(ctx, repo.executor(exec), &rows, q); err != nil {
		return nil, err
	}
	orgs := make([]organization.Organization, 0, len(rows))
	for _, row := range rows {
		orgs = append(orgs, row.toOrganization())
	}
	return orgs, nil
}

func (repo *organizationRepository) GetOrganization(ctx context.Context, id string, exec ...core.DBExecutor) (organization.Organization, error) {
	var row orgRow
	q := sq.Select(orgColumns...).From("organizations").Where(sq.Eq{"id": id})
	if err := get(ctx, repo.executor(exec), &row, q, organization.ErrNotFound); err != nil {
		return organization.Organization{}, err
	}
	return row.toOrganization(), nil
}

func (repo *organizationRepository) UpdateOrganization(ctx context.Context, org organization.Organization, exec ...core.DBExecutor) (organization.Organization, error) {
	row := newOrgRow(org)
	n, err := execute(ctx, repo.executor(exec), sq.Update("organizations").SetMap(row.values()).Where(sq.Eq{"id": row.ID}))
	if err != nil {
		if isUniqueViolation(err) {
			return organization.Organization{}, organization.ErrSlugExists
		}
		return organization.Organization{}, errors.Wrap(err, "updating organization")
	}
	if n == 0 {
		return organization.Organization{}, organization.ErrNotFound
	}
	return row.toOrganization(), nil
}

func (repo *organizationRepository) DeleteOrganization(ctx context.Context, id string, exec ...core.DBExecutor) error {
	n, err := execute(ctx, repo.executor(exec), sq.Delete("organizations").Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "deleting organization")
	}
	if n == 0 {
		return organization.ErrNotFound
	}
	return nil
}
