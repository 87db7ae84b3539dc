package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/notification"
)

var notificationColumns = []string{"id", "user_id", "kind", "title", "body", "read_at", "created_at"}

type notificationRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Kind      string    `db:"kind"`
	Title     string    `db:"title"`
	Body      string    `db:"body"`
	ReadAt    null.Time `db:"read_at"`
	CreatedAt time.Time `db:"created_at"`
}

func (row notificationRow) toNotification() notification.Notification {
	n := notification.Notification{
		ID:        row.ID,
		UserID:    row.UserID,
		Kind:      row.Kind,
		Title:     row.Title,
		Body:      row.Body,
		CreatedAt: row.CreatedAt.UTC(),
	}
	if row.ReadAt.Valid {
		t := row.ReadAt.Time.UTC()
		n.ReadAt = &t
	}
	return n
}

type notificationRepository struct {
	baseRepository
}

var _ notification.Repository = (*notificationRepository)(nil)

func NewNotificationRepository(db core.DBExecutor) notification.Repository {
	return &notificationRepository{baseRepository{db: db}}
}

func (repo *notificationRepository) CreateNotifications(ctx context.Context, notifs []notification.Notification, exec ...core.DBExecutor) error {
	if len(notifs) == 0 {
		return nil
	}
	q := sq.Insert("notifications").Columns("id", "user_id", "kind", "title", "body", "read_at", "created_at")
	for _, n := range notifs {
		id := n.ID
		if id == "" {
			id = newID()
		}
		var readAt null.Time
		if n.ReadAt != nil {
			readAt = null.TimeFrom(n.ReadAt.UTC())
		}
		q = q.Values(id, n.UserID, n.Kind, n.Title, n.Body, readAt, n.CreatedAt.UTC())
	}
	_, err := execute(ctx, repo.executor(exec), q)
	return errors.Wrap(err, "inserting notifications")
}

func (repo *notificationRepository) QueryNotifications(ctx context.Context, filter notification.QueryFilter, exec ...core.DBExecutor) ([]notification.Notification, error) {
	q := sq.Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"user_id": filter.UserID}).
		OrderBy("created_at DESC")
	if filter.UnreadOnly {
		q = q.Where(sq.Eq{"read_at": nil})
	}

	var rows []notificationRow
	if err := selectAll(ctx, repo.executor(exec), &rows, q); err != nil {
		return nil, err
	}
	notifs := make([]notification.Notification, 0, len(rows))
	for _, row := range rows {
		notifs = append(notifs, row.toNotification())
	}
	return notifs, nil
}

func (repo *notificationRepository) MarkNotificationsRead(ctx context.Context, userID string, ids []string, at time.Time, exec ...core.DBExecutor) (int, error) {
	q := sq.Update("notifications").
		Set("read_at", at.UTC()).
		Where(sq.Eq{"user_id": userID, "read_at": nil})
	if len(ids) > 0 {
		q = q.Where(sq.Eq{"id": ids})
	}
	n, err := execute(ctx, repo.executor(exec), q)
	return n, errors.Wrap(err, "marking notifications read")
}

func (repo *notificationRepository) DeleteNotifications(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error) {
	q := sq.Delete("notifications").Where(sq.Eq{"user_id": userID})
	if len(ids) > 0 {
		q = q.Where(sq.Eq{"id": ids})
	}
	n, err := execute(ctx, repo.executor(exec), q)
	return n, errors.Wrap(err, "deleting notifications")
}
