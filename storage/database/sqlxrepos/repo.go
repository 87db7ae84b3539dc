// Package sqlxrepos implements the domain repositories with squirrel-built SQL run through sqlx.
// Queries are written with "?" placeholders and rebound for the executor's driver,
// so the same repositories serve postgres and SQLite.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/trezcool/roomly/core"
)

const driverPostgres = "postgres"

type baseRepository struct {
	db core.DBExecutor
}

// executor returns the optional executor passed to a repository method, defaulting to the repository's DB.
func (repo baseRepository) executor(exec []core.DBExecutor) core.DBExecutor {
	if len(exec) > 0 && exec[0] != nil {
		return exec[0]
	}
	return repo.db
}

func toSQL(exec core.DBExecutor, q sq.Sqlizer) (string, []interface{}, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return "", nil, errors.Wrap(err, "building query")
	}
	return exec.Rebind(query), args, nil
}

// get scans the single row selected by q into dest. sql.ErrNoRows is returned as notFound.
func get(ctx context.Context, exec core.DBExecutor, dest interface{}, q sq.Sqlizer, notFound error) error {
	query, args, err := toSQL(exec, q)
	if err != nil {
		return err
	}
	if err = exec.GetContext(ctx, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound
		}
		return errors.Wrap(err, "selecting row")
	}
	return nil
}

func selectAll(ctx context.Context, exec core.DBExecutor, dest interface{}, q sq.Sqlizer) error {
	query, args, err := toSQL(exec, q)
	if err != nil {
		return err
	}
	return errors.Wrap(exec.SelectContext(ctx, dest, query, args...), "selecting rows")
}

// execute runs q and returns the number of affected rows.
func execute(ctx context.Context, exec core.DBExecutor, q sq.Sqlizer) (int, error) {
	query, args, err := toSQL(exec, q)
	if err != nil {
		return 0, err
	}
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "getting affected rows")
	}
	return int(n), nil
}

// orderBy applies the orderings whose fields are allowed, mapping them to their columns.
// defaults apply when no ordering is usable.
func orderBy(q sq.SelectBuilder, ordering []core.DBOrdering, columns map[string]string, defaults ...string) sq.SelectBuilder {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		col, ok := columns[ord.Field]
		if !ok {
			continue
		}
		clauses = append(clauses, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
	}
	if len(clauses) == 0 {
		clauses = defaults
	}
	return q.OrderBy(clauses...)
}

// like returns a case-insensitive "contains" pattern.
func like(s string) string {
	return "%" + strings.ToLower(s) + "%"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE"))
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY ||
			(liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "FOREIGN KEY"))
	}
	return false
}

func splitRoles(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

// errNoRow is used as get's notFound error when a missing row is not an error.
var errNoRow = errors.New("no row")

func newID() string {
	return uuid.NewString()
}
