package notification

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/roomly/core"
	"github.com/trezcool/roomly/core/user"
)

var ErrNotFound = core.NewNotFoundError("notification not found")

type (
	Repository interface {
		CreateNotifications(ctx context.Context, notifs []Notification, exec ...core.DBExecutor) error
		QueryNotifications(ctx context.Context, filter QueryFilter, exec ...core.DBExecutor) ([]Notification, error)
		// MarkNotificationsRead marks the user's unread notifications as read; all of them when ids is empty.
		MarkNotificationsRead(ctx context.Context, userID string, ids []string, at time.Time, exec ...core.DBExecutor) (int, error)
		// DeleteNotifications deletes the user's notifications; all of them when ids is empty.
		DeleteNotifications(ctx context.Context, userID string, ids []string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		// Notify stores a notification for each user and, when email is set, emails those having an address.
		Notify(ctx context.Context, users []user.User, kind, title, body string, email bool) ([]Notification, error)
		List(ctx context.Context, usr user.User, unreadOnly bool) ([]Notification, error)
		MarkRead(ctx context.Context, usr user.User, ids ...string) (int, error)
		MarkAllRead(ctx context.Context, usr user.User) (int, error)
		Delete(ctx context.Context, usr user.User, ids ...string) (int, error)
	}

	service struct {
		repo    Repository
		mailSvc core.EmailService
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService) Service {
	return &service{
		repo:    repo,
		mailSvc: mailSvc,
	}
}

func (svc *service) Notify(ctx context.Context, users []user.User, kind, title, body string, email bool) ([]Notification, error) {
	if len(users) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	notifs := make([]Notification, 0, len(users))
	seen := make(map[string]bool, len(users))
	for _, usr := range users {
		if usr.ID == "" || seen[usr.ID] {
			continue
		}
		seen[usr.ID] = true
		notifs = append(notifs, Notification{
			ID:        uuid.NewString(),
			UserID:    usr.ID,
			Kind:      kind,
			Title:     title,
			Body:      body,
			CreatedAt: now,
		})
	}
	if err := svc.repo.CreateNotifications(ctx, notifs); err != nil {
		return nil, errors.Wrap(err, "creating notifications")
	}

	if email {
		msgs := make([]*core.EmailMessage, 0, len(users))
		for _, usr := range users {
			if usr.Email == "" || !seen[usr.ID] {
				continue
			}
			delete(seen, usr.ID)
			msgs = append(msgs, &core.EmailMessage{
				To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
				Subject:      title,
				TemplateName: "notification",
				TemplateData: notificationData{Name: usr.Name, Title: title, Body: body},
			})
		}
		if len(msgs) > 0 {
			svc.mailSvc.SendMessages(msgs...)
		}
	}
	return notifs, nil
}

func (svc *service) List(ctx context.Context, usr user.User, unreadOnly bool) ([]Notification, error) {
	return svc.repo.QueryNotifications(ctx, QueryFilter{UserID: usr.ID, UnreadOnly: unreadOnly})
}

func (svc *service) MarkRead(ctx context.Context, usr user.User, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return svc.repo.MarkNotificationsRead(ctx, usr.ID, ids, time.Now().UTC())
}

func (svc *service) MarkAllRead(ctx context.Context, usr user.User) (int, error) {
	return svc.repo.MarkNotificationsRead(ctx, usr.ID, nil, time.Now().UTC())
}

func (svc *service) Delete(ctx context.Context, usr user.User, ids ...string) (int, error) {
	return svc.repo.DeleteNotifications(ctx, usr.ID, ids)
}

type notificationData struct {
	Name  string
	Title string
	Body  string
}
