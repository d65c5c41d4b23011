package inmemdb

import (
	"context"
	"strings"
	"time"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/notification"
)

type notificationRepository struct {
	db *DB
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) *notificationRepository {
	return &notificationRepository{db: db}
}

func cloneNotification(n *notification.Notification) notification.Notification {
	c := *n
	c.ReadAt = cloneTime(n.ReadAt)
	if n.Data != nil {
		c.Data = make(map[string]interface{}, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	return c
}

func (repo *notificationRepository) CreateNotification(_ context.Context, n notification.Notification, _ ...core.DBExecutor) (notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	n.ID = newID()
	stored := cloneNotification(&n)
	repo.db.notifications[n.ID] = &stored
	return cloneNotification(&stored), nil
}

func (repo *notificationRepository) GetNotification(_ context.Context, orgID, id string, _ ...core.DBExecutor) (notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	n, ok := repo.db.notifications[id]
	if !ok || n.OrganizationID != orgID {
		return notification.Notification{}, notification.ErrNotFound
	}
	return cloneNotification(n), nil
}

func (repo *notificationRepository) QueryNotifications(_ context.Context, orgID, userID string, filter notification.QueryFilter, _ ...core.DBExecutor) ([]notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	ns := make([]notification.Notification, 0)
	for _, n := range repo.db.notifications {
		if n.OrganizationID != orgID || n.UserID != userID || (filter.Unread && n.IsRead()) {
			continue
		}
		ns = append(ns, cloneNotification(n))
	}
	orderBy(ns, nil, core.DBOrdering{Field: "created_at"}, func(a, b notification.Notification, _ string) int {
		if c := compareTimes(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(ns) > filter.Limit {
		ns = ns[:filter.Limit]
	}
	return ns, nil
}

func (repo *notificationRepository) MarkRead(_ context.Context, orgID, userID string, ids []string, at time.Time, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var cnt int
	for _, n := range repo.db.notifications {
		if n.OrganizationID != orgID || n.UserID != userID || n.IsRead() {
			continue
		}
		if len(ids) > 0 && !core.StringInSlice(n.ID, ids) {
			continue
		}
		readAt := at
		n.ReadAt = &readAt
		cnt++
	}
	return cnt, nil
}

func (repo *notificationRepository) CountUnread(_ context.Context, orgID, userID string, _ ...core.DBExecutor) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var cnt int
	for _, n := range repo.db.notifications {
		if n.OrganizationID == orgID && n.UserID == userID && !n.IsRead() {
			cnt++
		}
	}
	return cnt, nil
}
