package boiledrepos

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/notification"
)

const notificationColumns = `id, organization_id, user_id, kind, title, body, data, read_at, created_at`

type notificationRow struct {
	ID             string    `boil:"id"`
	OrganizationID string    `boil:"organization_id"`
	UserID         string    `boil:"user_id"`
	Kind           string    `boil:"kind"`
	Title          string    `boil:"title"`
	Body           string    `boil:"body"`
	Data           null.JSON `boil:"data"`
	ReadAt         null.Time `boil:"read_at"`
	CreatedAt      time.Time `boil:"created_at"`
}

func (r notificationRow) unboil() (notification.Notification, error) {
	n := notification.Notification{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		UserID:         r.UserID,
		Kind:           r.Kind,
		Title:          r.Title,
		Body:           r.Body,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.ReadAt.Valid {
		at := r.ReadAt.Time.UTC()
		n.ReadAt = &at
	}
	if r.Data.Valid {
		if err := r.Data.Unmarshal(&n.Data); err != nil {
			return notification.Notification{}, errors.Wrap(err, "decoding notification data")
		}
	}
	return n, nil
}

type notificationRepository struct {
	repository
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(exec core.DBExecutor) *notificationRepository {
	return &notificationRepository{repository{exec: exec}}
}

func (repo notificationRepository) CreateNotification(ctx context.Context, n notification.Notification, exec ...core.DBExecutor) (notification.Notification, error) {
	var data null.JSON
	if n.Data != nil {
		b, err := toJSON(n.Data)
		if err != nil {
			return notification.Notification{}, err
		}
		data = null.JSONFrom(b)
	}
	n.ID = newID()
	var readAt null.Time
	if n.ReadAt != nil {
		readAt = null.TimeFrom(n.ReadAt.UTC())
	}
	_, err := queries.Raw(
		`INSERT INTO notifications (`+notificationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.ID, n.OrganizationID, n.UserID, n.Kind, n.Title, n.Body, data, readAt, n.CreatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return notification.Notification{}, errors.Wrap(err, "inserting notification")
	}
	return n, nil
}

func (repo notificationRepository) GetNotification(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (notification.Notification, error) {
	if !isUUID(id) {
		return notification.Notification{}, notification.ErrNotFound
	}
	var row notificationRow
	err := queries.Raw(`SELECT `+notificationColumns+` FROM notifications WHERE organization_id = $1 AND id = $2`, orgID, id).
		Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return notification.Notification{}, trapNoRowsErr(err, notification.ErrNotFound, "getting notification")
	}
	return row.unboil()
}

func (repo notificationRepository) QueryNotifications(ctx context.Context, orgID, userID string, filter notification.QueryFilter, exec ...core.DBExecutor) ([]notification.Notification, error) {
	var where whereClause
	where.add("organization_id = ?", orgID)
	where.add("user_id = ?", userID)
	if filter.Unread {
		where.add("read_at IS NULL")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	q, args, err := in(`SELECT `+notificationColumns+` FROM notifications`+where.String()+` ORDER BY created_at DESC, id DESC LIMIT ?`,
		append(where.args, limit)...)
	if err != nil {
		return nil, err
	}
	var rows []notificationRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	ns := make([]notification.Notification, 0, len(rows))
	for _, r := range rows {
		n, err := r.unboil()
		if err != nil {
			return nil, err
		}
		ns = append(ns, n)
	}
	return ns, nil
}

func (repo notificationRepository) MarkRead(ctx context.Context, orgID, userID string, ids []string, at time.Time, exec ...core.DBExecutor) (int, error) {
	q := `UPDATE notifications SET read_at = $3 WHERE organization_id = $1 AND user_id = $2 AND read_at IS NULL`
	args := []interface{}{orgID, userID, at.UTC()}
	if len(ids) > 0 {
		q += ` AND id = ANY ($4::uuid[])`
		args = append(args, pq.Array(validUUIDs(ids)))
	}
	res, err := queries.Raw(q, args...).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return 0, errors.Wrap(err, "marking notifications read")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "marking notifications read")
}

func (repo notificationRepository) CountUnread(ctx context.Context, orgID, userID string, exec ...core.DBExecutor) (int, error) {
	var cnt int
	err := queries.Raw(
		`SELECT count(*) FROM notifications WHERE organization_id = $1 AND user_id = $2 AND read_at IS NULL`,
		orgID, userID,
	).QueryRowContext(ctx, repo.getExec(exec)).Scan(&cnt)
	return cnt, errors.Wrap(err, "counting unread notifications")
}
