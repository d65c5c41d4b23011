package boiledrepos

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/types"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/workflow"
)

const (
	workflowColumns = `id, organization_id, name, description, is_active, trigger_event, trigger_offset, conditions, actions,
	last_scanned_at, created_at, updated_at`
	deliveryColumns = `id, organization_id, workflow_id, idempotency_key, event_type, event_key, channel, recipient_id,
	subject, body, status, attempts, next_attempt_at, locked_until, last_error, sent_at, created_at, updated_at`
)

type workflowRow struct {
	ID             string     `boil:"id"`
	OrganizationID string     `boil:"organization_id"`
	Name           string     `boil:"name"`
	Description    string     `boil:"description"`
	IsActive       bool       `boil:"is_active"`
	TriggerEvent   string     `boil:"trigger_event"`
	TriggerOffset  int64      `boil:"trigger_offset"`
	Conditions     types.JSON `boil:"conditions"`
	Actions        types.JSON `boil:"actions"`
	LastScannedAt  null.Time  `boil:"last_scanned_at"`
	CreatedAt      time.Time  `boil:"created_at"`
	UpdatedAt      time.Time  `boil:"updated_at"`
}

func (r workflowRow) unboil() (workflow.Workflow, error) {
	wf := workflow.Workflow{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		Description:    r.Description,
		IsActive:       r.IsActive,
		Trigger:        workflow.Trigger{Event: r.TriggerEvent, Offset: core.Duration(r.TriggerOffset)},
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.LastScannedAt.Valid {
		at := r.LastScannedAt.Time.UTC()
		wf.LastScannedAt = &at
	}
	if err := r.Conditions.Unmarshal(&wf.Conditions); err != nil {
		return workflow.Workflow{}, errors.Wrap(err, "decoding conditions")
	}
	if err := r.Actions.Unmarshal(&wf.Actions); err != nil {
		return workflow.Workflow{}, errors.Wrap(err, "decoding actions")
	}
	return wf, nil
}

func unboilWorkflows(rows []workflowRow) ([]workflow.Workflow, error) {
	wfs := make([]workflow.Workflow, 0, len(rows))
	for _, r := range rows {
		wf, err := r.unboil()
		if err != nil {
			return nil, err
		}
		wfs = append(wfs, wf)
	}
	return wfs, nil
}

type deliveryRow struct {
	ID             string    `boil:"id"`
	OrganizationID string    `boil:"organization_id"`
	WorkflowID     string    `boil:"workflow_id"`
	IdempotencyKey string    `boil:"idempotency_key"`
	EventType      string    `boil:"event_type"`
	EventKey       string    `boil:"event_key"`
	Channel        string    `boil:"channel"`
	RecipientID    string    `boil:"recipient_id"`
	Subject        string    `boil:"subject"`
	Body           string    `boil:"body"`
	Status         string    `boil:"status"`
	Attempts       int       `boil:"attempts"`
	NextAttemptAt  time.Time `boil:"next_attempt_at"`
	LockedUntil    null.Time `boil:"locked_until"`
	LastError      string    `boil:"last_error"`
	SentAt         null.Time `boil:"sent_at"`
	CreatedAt      time.Time `boil:"created_at"`
	UpdatedAt      time.Time `boil:"updated_at"`
}

func timePtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func nullTime(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func (r deliveryRow) unboil() workflow.Delivery {
	return workflow.Delivery{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		WorkflowID:     r.WorkflowID,
		IdempotencyKey: r.IdempotencyKey,
		EventType:      r.EventType,
		EventKey:       r.EventKey,
		Channel:        r.Channel,
		RecipientID:    r.RecipientID,
		Subject:        r.Subject,
		Body:           r.Body,
		Status:         r.Status,
		Attempts:       r.Attempts,
		NextAttemptAt:  r.NextAttemptAt.UTC(),
		LockedUntil:    timePtr(r.LockedUntil),
		LastError:      r.LastError,
		SentAt:         timePtr(r.SentAt),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func unboilDeliveries(rows []deliveryRow) []workflow.Delivery {
	ds := make([]workflow.Delivery, 0, len(rows))
	for _, r := range rows {
		ds = append(ds, r.unboil())
	}
	return ds
}

type workflowRepository struct {
	repository
}

var _ workflow.Repository = (*workflowRepository)(nil) // interface compliance check

func NewWorkflowRepository(exec core.DBExecutor) *workflowRepository {
	return &workflowRepository{repository{exec: exec}}
}

func (repo workflowRepository) CreateWorkflow(ctx context.Context, wf workflow.Workflow, exec ...core.DBExecutor) (workflow.Workflow, error) {
	conds, err := toJSON(wf.Conditions)
	if err != nil {
		return workflow.Workflow{}, err
	}
	actions, err := toJSON(wf.Actions)
	if err != nil {
		return workflow.Workflow{}, err
	}
	wf.ID = newID()
	_, err = queries.Raw(
		`INSERT INTO workflows (`+workflowColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		wf.ID, wf.OrganizationID, wf.Name, wf.Description, wf.IsActive, wf.Trigger.Event, int64(wf.Trigger.Offset),
		conds, actions, nullTime(wf.LastScannedAt), wf.CreatedAt.UTC(), wf.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return workflow.Workflow{}, errors.Wrap(err, "inserting workflow")
	}
	return wf, nil
}

func (repo workflowRepository) getWorkflow(ctx context.Context, cond string, args []interface{}, exe core.DBExecutor) (workflow.Workflow, error) {
	var row workflowRow
	err := queries.Raw(`SELECT `+workflowColumns+` FROM workflows WHERE `+cond, args...).Bind(ctx, exe, &row)
	if err != nil {
		return workflow.Workflow{}, trapNoRowsErr(err, workflow.ErrNotFound, "getting workflow")
	}
	return row.unboil()
}

func (repo workflowRepository) GetWorkflow(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (workflow.Workflow, error) {
	if !isUUID(id) {
		return workflow.Workflow{}, workflow.ErrNotFound
	}
	return repo.getWorkflow(ctx, "organization_id = $1 AND id = $2", []interface{}{orgID, id}, repo.getExec(exec))
}

func (repo workflowRepository) GetWorkflowByName(ctx context.Context, orgID, name string, exec ...core.DBExecutor) (workflow.Workflow, error) {
	return repo.getWorkflow(ctx, "organization_id = $1 AND lower(name) = lower($2)", []interface{}{orgID, name}, repo.getExec(exec))
}

func (repo workflowRepository) QueryWorkflows(ctx context.Context, orgID string, filter workflow.WorkflowFilter, exec ...core.DBExecutor) ([]workflow.Workflow, error) {
	var where whereClause
	where.add("organization_id = ?", orgID)
	if filter.Event != "" {
		where.add("trigger_event = ?", filter.Event)
	}
	if filter.IsActive != nil {
		where.add("is_active = ?", *filter.IsActive)
	}

	q, args, err := in(`SELECT `+workflowColumns+` FROM workflows`+where.String()+` ORDER BY name, id`, where.args...)
	if err != nil {
		return nil, err
	}
	var rows []workflowRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying workflows")
	}
	return unboilWorkflows(rows)
}

func (repo workflowRepository) ListActiveWorkflows(ctx context.Context, event string, exec ...core.DBExecutor) ([]workflow.Workflow, error) {
	var rows []workflowRow
	err := queries.Raw(
		`SELECT `+prefixColumns("w", workflowColumns)+` FROM workflows w
		JOIN organizations o ON o.id = w.organization_id AND o.is_active
		WHERE w.is_active AND w.trigger_event = $1
		ORDER BY w.name, w.id`,
		event,
	).Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, errors.Wrap(err, "listing active workflows")
	}
	return unboilWorkflows(rows)
}

func (repo workflowRepository) UpdateWorkflow(ctx context.Context, wf workflow.Workflow, exec ...core.DBExecutor) (workflow.Workflow, error) {
	conds, err := toJSON(wf.Conditions)
	if err != nil {
		return workflow.Workflow{}, err
	}
	actions, err := toJSON(wf.Actions)
	if err != nil {
		return workflow.Workflow{}, err
	}
	res, err := queries.Raw(
		`UPDATE workflows SET name = $3, description = $4, is_active = $5, trigger_event = $6, trigger_offset = $7,
			conditions = $8, actions = $9, last_scanned_at = $10, updated_at = $11
		WHERE organization_id = $1 AND id = $2`,
		wf.OrganizationID, wf.ID, wf.Name, wf.Description, wf.IsActive, wf.Trigger.Event, int64(wf.Trigger.Offset),
		conds, actions, nullTime(wf.LastScannedAt), wf.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return workflow.Workflow{}, errors.Wrap(err, "updating workflow")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return workflow.Workflow{}, workflow.ErrNotFound
	}
	return wf, nil
}

func (repo workflowRepository) SetLastScannedAt(ctx context.Context, orgID, id string, at time.Time, exec ...core.DBExecutor) error {
	_, err := queries.Raw(`UPDATE workflows SET last_scanned_at = $3 WHERE organization_id = $1 AND id = $2`, orgID, id, at.UTC()).
		ExecContext(ctx, repo.getExec(exec))
	return errors.Wrap(err, "setting last scanned at")
}

func (repo workflowRepository) DeleteWorkflow(ctx context.Context, orgID, id string, exec ...core.DBExecutor) error {
	if !isUUID(id) {
		return workflow.ErrNotFound
	}
	res, err := queries.Raw(`DELETE FROM workflows WHERE organization_id = $1 AND id = $2`, orgID, id).
		ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return errors.Wrap(err, "deleting workflow")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

func (repo workflowRepository) EnqueueDeliveries(ctx context.Context, deliveries []workflow.Delivery, exec ...core.DBExecutor) (int, error) {
	if len(deliveries) == 0 {
		return 0, nil
	}
	const cols = 18
	args := make([]interface{}, 0, cols*len(deliveries))
	for _, d := range deliveries {
		args = append(args, newID(), d.OrganizationID, d.WorkflowID, d.IdempotencyKey, d.EventType, d.EventKey, d.Channel,
			d.RecipientID, d.Subject, d.Body, d.Status, d.Attempts, d.NextAttemptAt.UTC(), nullTime(d.LockedUntil),
			d.LastError, nullTime(d.SentAt), d.CreatedAt.UTC(), d.UpdatedAt.UTC())
	}
	q := `INSERT INTO deliveries (` + deliveryColumns + `) VALUES ` + strmangle.Placeholders(true, len(args), 1, cols) +
		` ON CONFLICT (idempotency_key) DO NOTHING`
	res, err := queries.Raw(q, args...).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return 0, errors.Wrap(err, "enqueuing deliveries")
	}
	cnt, err := res.RowsAffected()
	return int(cnt), errors.Wrap(err, "enqueuing deliveries")
}

func (repo workflowRepository) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lease time.Duration, exec ...core.DBExecutor) ([]workflow.Delivery, error) {
	var rows []deliveryRow
	err := queries.Raw(
		`UPDATE deliveries SET locked_until = $2
		WHERE id IN (
			SELECT id FROM deliveries
			WHERE status IN ($3, $4) AND next_attempt_at <= $1 AND (locked_until IS NULL OR locked_until <= $1)
			ORDER BY created_at, id
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+deliveryColumns,
		now.UTC(), now.Add(lease).UTC(), workflow.StatusPending, workflow.StatusFailed, limit,
	).Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, errors.Wrap(err, "claiming deliveries")
	}
	ds := unboilDeliveries(rows)
	sortByCreation(ds)
	return ds, nil
}

func (repo workflowRepository) GetDelivery(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (workflow.Delivery, error) {
	if !isUUID(id) {
		return workflow.Delivery{}, workflow.ErrDeliveryNotFound
	}
	var row deliveryRow
	err := queries.Raw(`SELECT `+deliveryColumns+` FROM deliveries WHERE organization_id = $1 AND id = $2`, orgID, id).
		Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return workflow.Delivery{}, trapNoRowsErr(err, workflow.ErrDeliveryNotFound, "getting delivery")
	}
	return row.unboil(), nil
}

func (repo workflowRepository) QueryDeliveries(ctx context.Context, orgID string, filter workflow.DeliveryFilter, exec ...core.DBExecutor) ([]workflow.Delivery, error) {
	var where whereClause
	where.add("organization_id = ?", orgID)
	if filter.Status != "" {
		where.add("status = ?", filter.Status)
	}
	if filter.WorkflowID != "" {
		where.add("workflow_id::text = ?", filter.WorkflowID)
	}
	if filter.RecipientID != "" {
		where.add("recipient_id::text = ?", filter.RecipientID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}

	q, args, err := in(`SELECT `+deliveryColumns+` FROM deliveries`+where.String()+` ORDER BY created_at, id LIMIT ?`,
		append(where.args, limit)...)
	if err != nil {
		return nil, err
	}
	var rows []deliveryRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying deliveries")
	}
	return unboilDeliveries(rows), nil
}

func (repo workflowRepository) UpdateDelivery(ctx context.Context, d workflow.Delivery, exec ...core.DBExecutor) (workflow.Delivery, error) {
	res, err := queries.Raw(
		`UPDATE deliveries SET status = $3, attempts = $4, next_attempt_at = $5, locked_until = $6, last_error = $7,
			sent_at = $8, updated_at = $9
		WHERE organization_id = $1 AND id = $2`,
		d.OrganizationID, d.ID, d.Status, d.Attempts, d.NextAttemptAt.UTC(), nullTime(d.LockedUntil), d.LastError,
		nullTime(d.SentAt), d.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return workflow.Delivery{}, errors.Wrap(err, "updating delivery")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return workflow.Delivery{}, workflow.ErrDeliveryNotFound
	}
	return d, nil
}
