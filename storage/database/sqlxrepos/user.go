package sqlxrepos

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/user"
)

var (
	userColumns = []string{
		"id", "organization_id", "name", "username", "email", "is_active", "roles",
		"password_hash", "created_at", "updated_at", "last_login",
	}
	userOrderings = map[string]string{
		"name":       "name",
		"username":   "username",
		"email":      "email",
		"created_at": "created_at",
		"last_login": "last_login",
	}
)

type userRow struct {
	ID             string      `db:"id"`
	OrganizationID null.String `db:"organization_id"`
	Name           string      `db:"name"`
	Username       null.String `db:"username"`
	Email          null.String `db:"email"`
	IsActive       bool        `db:"is_active"`
	Roles          string      `db:"roles"`
	PasswordHash   []byte      `db:"password_hash"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
	LastLogin      null.Time   `db:"last_login"`
}

func newUserRow(usr user.User) userRow {
	return userRow{
		ID:             usr.ID,
		OrganizationID: null.NewString(usr.OrganizationID, usr.OrganizationID != ""),
		Name:           usr.Name,
		Username:       null.NewString(usr.Username, usr.Username != ""),
		Email:          null.NewString(usr.Email, usr.Email != ""),
		IsActive:       usr.IsActive,
		Roles:          strings.Join(usr.Roles, ","),
		PasswordHash:   usr.PasswordHash,
		CreatedAt:      usr.CreatedAt.UTC(),
		UpdatedAt:      usr.UpdatedAt.UTC(),
		LastLogin:      null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (row userRow) toUser() user.User {
	usr := user.User{
		ID:             row.ID,
		OrganizationID: row.OrganizationID.String,
		Name:           row.Name,
		Username:       row.Username.String,
		Email:          row.Email.String,
		IsActive:       row.IsActive,
		Roles:          splitRoles(row.Roles),
		PasswordHash:   row.PasswordHash,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}
	if row.LastLogin.Valid {
		usr.LastLogin = row.LastLogin.Time.UTC()
	}
	return usr
}

func (row userRow) values() map[string]interface{} {
	return map[string]interface{}{
		"organization_id": row.OrganizationID,
		"name":            row.Name,
		"username":        row.Username,
		"email":           row.Email,
		"is_active":       row.IsActive,
		"roles":           row.Roles,
		"password_hash":   row.PasswordHash,
		"updated_at":      row.UpdatedAt,
		"last_login":      row.LastLogin,
	}
}

type userRepository struct {
	baseRepository
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db core.DBExecutor) user.Repository {
	return &userRepository{baseRepository{db: db}}
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers []user.User, exec ...core.DBExecutor) error {
	or := sq.Or{}
	if username != "" {
		or = append(or, sq.Eq{"username": username})
	}
	if email != "" {
		or = append(or, sq.Eq{"email": email})
	}
	if len(or) == 0 {
		return nil
	}

	q := sq.Select("username", "email").From("users").Where(or).Limit(1)
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		q = q.Where(sq.NotEq{"id": ids})
	}

	var found struct {
		Username null.String `db:"username"`
		Email    null.String `db:"email"`
	}
	err := get(ctx, repo.executor(exec), &found, q, errNoRow)
	switch {
	case err == errNoRow:
		return nil
	case err != nil:
		return err
	case username != "" && found.Username.String == username:
		return user.ErrUsernameExists
	default:
		return user.ErrEmailExists
	}
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	if usr.ID == "" {
		usr.ID = newID()
	}
	row := newUserRow(usr)
	vals := row.values()
	vals["id"] = row.ID
	vals["created_at"] = row.CreatedAt

	if _, err := execute(ctx, repo.executor(exec), sq.Insert("users").SetMap(vals)); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, repo.uniquenessErr(ctx, usr, exec)
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return row.toUser(), nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]user.User, error) {
	q := sq.Select(userColumns...).From("users")
	if filter != nil {
		filter.Clean()
		if filter.Search != "" {
			pattern := like(filter.Search)
			q = q.Where(sq.Or{
				sq.Like{"LOWER(name)": pattern},
				sq.Like{"LOWER(username)": pattern},
				sq.Like{"LOWER(email)": pattern},
			})
		}
		if len(filter.Roles) > 0 {
			or := sq.Or{}
			for _, role := range filter.Roles {
				// roles are stored comma-joined: match any role starting with the prefix
				or = append(or, sq.Expr("(',' || roles) LIKE ?", "%,"+role+"%"))
			}
			q = q.Where(or)
		}
		if filter.IsActive != nil {
			q = q.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if filter.OrganizationID != "" {
			q = q.Where(sq.Eq{"organization_id": filter.OrganizationID})
		}
	}
	q = orderBy(q, ordering, userOrderings, "created_at DESC")

	var rows []userRow
	if err := selectAll(ctx, repo.executor(exec), &rows, q); err != nil {
		return nil, err
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo *userRepository) GetUser(ctx context.Context, filter user.GetFilter, exec ...core.DBExecutor) (user.User, error) {
	q := sq.Select(userColumns...).From("users").Limit(1)
	switch {
	case filter.ID != "":
		q = q.Where(sq.Eq{"id": filter.ID})
	case filter.Username != "":
		q = q.Where(sq.Eq{"username": filter.Username})
	case filter.Email != "":
		q = q.Where(sq.Eq{"email": filter.Email})
	case filter.UsernameOrEmail != "":
		q = q.Where(sq.Or{sq.Eq{"username": filter.UsernameOrEmail}, sq.Eq{"email": filter.UsernameOrEmail}})
	default:
		return user.User{}, user.ErrNotFound
	}

	var row userRow
	if err := get(ctx, repo.executor(exec), &row, q, user.ErrNotFound); err != nil {
		return user.User{}, err
	}
	return row.toUser(), nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, exec ...core.DBExecutor) (user.User, error) {
	row := newUserRow(usr)
	n, err := execute(ctx, repo.executor(exec), sq.Update("users").SetMap(row.values()).Where(sq.Eq{"id": row.ID}))
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, repo.uniquenessErr(ctx, usr, exec)
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return row.toUser(), nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := execute(ctx, repo.executor(exec), sq.Delete("users").Where(sq.Eq{"id": ids}))
	return n, errors.Wrap(err, "deleting users")
}

// uniquenessErr tells which of username or email caused a unique violation.
func (repo *userRepository) uniquenessErr(ctx context.Context, usr user.User, exec []core.DBExecutor) error {
	if err := repo.CheckUsernameUniqueness(ctx, usr.Username, usr.Email, []user.User{usr}, exec...); err != nil {
		return err
	}
	return user.ErrUsernameExists
}
