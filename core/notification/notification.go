// Package notification stores the in-app notifications shown to users.
package notification

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

var ErrNotFound = core.NewNotFoundError("notification")

type Notification struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	UserID         string                 `json:"user_id"`
	Kind           string                 `json:"kind"`
	Title          string                 `json:"title"`
	Body           string                 `json:"body"`
	Data           map[string]interface{} `json:"data,omitempty"`
	ReadAt         *time.Time             `json:"read_at"`    // UTC
	CreatedAt      time.Time              `json:"created_at"` // UTC
}

func (n Notification) IsRead() bool { return n.ReadAt != nil }

type QueryFilter struct {
	Unread bool `query:"unread"`
	Limit  int  `query:"limit"`
}

func (qf *QueryFilter) Clean() {
	if qf.Limit <= 0 || qf.Limit > 200 {
		qf.Limit = 200
	}
}

type (
	Repository interface {
		CreateNotification(ctx context.Context, n Notification, exec ...core.DBExecutor) (Notification, error)
		GetNotification(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (Notification, error)
		// QueryNotifications lists a user's notifications, newest first.
		QueryNotifications(ctx context.Context, orgID, userID string, filter QueryFilter, exec ...core.DBExecutor) ([]Notification, error)
		// MarkRead sets ReadAt on the given unread notifications of a user, all of them when ids is empty.
		MarkRead(ctx context.Context, orgID, userID string, ids []string, at time.Time, exec ...core.DBExecutor) (int, error)
		CountUnread(ctx context.Context, orgID, userID string, exec ...core.DBExecutor) (int, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create stores a notification for its user.
func (svc *Service) Create(ctx context.Context, n Notification) (Notification, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n, err := svc.repo.CreateNotification(ctx, n)
	return n, errors.Wrap(err, "creating notification")
}

func (svc *Service) ListMine(ctx context.Context, actor user.User, filter QueryFilter) ([]Notification, error) {
	filter.Clean()
	return svc.repo.QueryNotifications(ctx, actor.OrganizationID, actor.ID, filter)
}

// MarkRead marks one of actor's notifications read.
func (svc *Service) MarkRead(ctx context.Context, actor user.User, id string) (Notification, error) {
	n, err := svc.repo.GetNotification(ctx, actor.OrganizationID, id)
	if err != nil {
		return Notification{}, err
	}
	if n.UserID != actor.ID {
		return Notification{}, ErrNotFound
	}
	if n.IsRead() {
		return n, nil
	}
	now := time.Now().UTC()
	if _, err = svc.repo.MarkRead(ctx, actor.OrganizationID, actor.ID, []string{n.ID}, now); err != nil {
		return Notification{}, errors.Wrap(err, "marking notification read")
	}
	n.ReadAt = &now
	return n, nil
}

// MarkAllRead marks every notification of actor read and returns how many were unread.
func (svc *Service) MarkAllRead(ctx context.Context, actor user.User) (int, error) {
	n, err := svc.repo.MarkRead(ctx, actor.OrganizationID, actor.ID, nil, time.Now().UTC())
	return n, errors.Wrap(err, "marking notifications read")
}

func (svc *Service) UnreadCount(ctx context.Context, actor user.User) (int, error) {
	return svc.repo.CountUnread(ctx, actor.OrganizationID, actor.ID)
}
