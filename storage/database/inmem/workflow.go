package inmemdb

import (
	"context"
	"strings"
	"time"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/workflow"
)

type workflowRepository struct {
	db *DB
}

var _ workflow.Repository = (*workflowRepository)(nil) // interface compliance check

func NewWorkflowRepository(db *DB) *workflowRepository {
	return &workflowRepository{db: db}
}

func cloneWorkflow(wf *workflow.Workflow) workflow.Workflow {
	c := *wf
	c.Conditions = append([]workflow.Condition(nil), wf.Conditions...)
	c.Actions = make([]workflow.Action, len(wf.Actions))
	for i, a := range wf.Actions {
		a.Recipients = cloneStrings(a.Recipients)
		c.Actions[i] = a
	}
	c.LastScannedAt = cloneTime(wf.LastScannedAt)
	return c
}

func cloneDelivery(d *workflow.Delivery) workflow.Delivery {
	c := *d
	c.LockedUntil = cloneTime(d.LockedUntil)
	c.SentAt = cloneTime(d.SentAt)
	return c
}

func (repo *workflowRepository) CreateWorkflow(_ context.Context, wf workflow.Workflow, _ ...core.DBExecutor) (workflow.Workflow, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	wf.ID = newID()
	stored := cloneWorkflow(&wf)
	repo.db.workflows[wf.ID] = &stored
	return cloneWorkflow(&stored), nil
}

func (repo *workflowRepository) GetWorkflow(_ context.Context, orgID, id string, _ ...core.DBExecutor) (workflow.Workflow, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	wf, ok := repo.db.workflows[id]
	if !ok || wf.OrganizationID != orgID {
		return workflow.Workflow{}, workflow.ErrNotFound
	}
	return cloneWorkflow(wf), nil
}

func (repo *workflowRepository) GetWorkflowByName(_ context.Context, orgID, name string, _ ...core.DBExecutor) (workflow.Workflow, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, wf := range repo.db.workflows {
		if wf.OrganizationID == orgID && strings.EqualFold(wf.Name, name) {
			return cloneWorkflow(wf), nil
		}
	}
	return workflow.Workflow{}, workflow.ErrNotFound
}

func sortWorkflows(wfs []workflow.Workflow) {
	orderBy(wfs, nil, core.DBOrdering{Field: "name", Ascending: true}, func(a, b workflow.Workflow, _ string) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func (repo *workflowRepository) QueryWorkflows(_ context.Context, orgID string, filter workflow.WorkflowFilter, _ ...core.DBExecutor) ([]workflow.Workflow, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	wfs := make([]workflow.Workflow, 0)
	for _, wf := range repo.db.workflows {
		switch {
		case wf.OrganizationID != orgID:
		case filter.Event != "" && wf.Trigger.Event != filter.Event:
		case filter.IsActive != nil && wf.IsActive != *filter.IsActive:
		default:
			wfs = append(wfs, cloneWorkflow(wf))
		}
	}
	sortWorkflows(wfs)
	return wfs, nil
}

func (repo *workflowRepository) ListActiveWorkflows(_ context.Context, event string, _ ...core.DBExecutor) ([]workflow.Workflow, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	wfs := make([]workflow.Workflow, 0)
	for _, wf := range repo.db.workflows {
		if !wf.IsActive || wf.Trigger.Event != event {
			continue
		}
		if org, ok := repo.db.orgs[wf.OrganizationID]; ok && org.IsActive {
			wfs = append(wfs, cloneWorkflow(wf))
		}
	}
	sortWorkflows(wfs)
	return wfs, nil
}

func (repo *workflowRepository) UpdateWorkflow(_ context.Context, wf workflow.Workflow, _ ...core.DBExecutor) (workflow.Workflow, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	old, ok := repo.db.workflows[wf.ID]
	if !ok || old.OrganizationID != wf.OrganizationID {
		return workflow.Workflow{}, workflow.ErrNotFound
	}
	stored := cloneWorkflow(&wf)
	repo.db.workflows[wf.ID] = &stored
	return cloneWorkflow(&stored), nil
}

func (repo *workflowRepository) SetLastScannedAt(_ context.Context, orgID, id string, at time.Time, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	wf, ok := repo.db.workflows[id]
	if !ok || wf.OrganizationID != orgID {
		return workflow.ErrNotFound
	}
	wf.LastScannedAt = &at
	return nil
}

func (repo *workflowRepository) DeleteWorkflow(_ context.Context, orgID, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	wf, ok := repo.db.workflows[id]
	if !ok || wf.OrganizationID != orgID {
		return workflow.ErrNotFound
	}
	delete(repo.db.workflows, id)
	for did, d := range repo.db.deliveries {
		if d.WorkflowID == id {
			delete(repo.db.deliveries, did)
		}
	}
	return nil
}

func (repo *workflowRepository) EnqueueDeliveries(_ context.Context, deliveries []workflow.Delivery, _ ...core.DBExecutor) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	keys := make(map[string]bool, len(repo.db.deliveries))
	for _, d := range repo.db.deliveries {
		keys[d.IdempotencyKey] = true
	}

	var cnt int
	for _, d := range deliveries {
		if keys[d.IdempotencyKey] {
			continue
		}
		keys[d.IdempotencyKey] = true
		d.ID = newID()
		stored := cloneDelivery(&d)
		repo.db.deliveries[d.ID] = &stored
		cnt++
	}
	return cnt, nil
}

func sortDeliveries(ds []workflow.Delivery) {
	orderBy(ds, nil, core.DBOrdering{Field: "created_at", Ascending: true}, func(a, b workflow.Delivery, _ string) int {
		if c := compareTimes(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func (repo *workflowRepository) ClaimDueDeliveries(_ context.Context, now time.Time, limit int, lease time.Duration, _ ...core.DBExecutor) ([]workflow.Delivery, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	due := make([]workflow.Delivery, 0)
	for _, d := range repo.db.deliveries {
		if d.Status != workflow.StatusPending && d.Status != workflow.StatusFailed {
			continue
		}
		if d.NextAttemptAt.After(now) || (d.LockedUntil != nil && d.LockedUntil.After(now)) {
			continue
		}
		due = append(due, *d)
	}
	sortDeliveries(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	for i := range due {
		stored := repo.db.deliveries[due[i].ID]
		lockedUntil := until
		stored.LockedUntil = &lockedUntil
		due[i] = cloneDelivery(stored)
	}
	return due, nil
}

func (repo *workflowRepository) GetDelivery(_ context.Context, orgID, id string, _ ...core.DBExecutor) (workflow.Delivery, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	d, ok := repo.db.deliveries[id]
	if !ok || d.OrganizationID != orgID {
		return workflow.Delivery{}, workflow.ErrDeliveryNotFound
	}
	return cloneDelivery(d), nil
}

func (repo *workflowRepository) QueryDeliveries(_ context.Context, orgID string, filter workflow.DeliveryFilter, _ ...core.DBExecutor) ([]workflow.Delivery, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	ds := make([]workflow.Delivery, 0)
	for _, d := range repo.db.deliveries {
		switch {
		case d.OrganizationID != orgID:
		case filter.Status != "" && d.Status != filter.Status:
		case filter.WorkflowID != "" && d.WorkflowID != filter.WorkflowID:
		case filter.RecipientID != "" && d.RecipientID != filter.RecipientID:
		default:
			ds = append(ds, cloneDelivery(d))
		}
	}
	sortDeliveries(ds)
	if filter.Limit > 0 && len(ds) > filter.Limit {
		ds = ds[:filter.Limit]
	}
	return ds, nil
}

func (repo *workflowRepository) UpdateDelivery(_ context.Context, d workflow.Delivery, _ ...core.DBExecutor) (workflow.Delivery, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	old, ok := repo.db.deliveries[d.ID]
	if !ok || old.OrganizationID != d.OrganizationID {
		return workflow.Delivery{}, workflow.ErrDeliveryNotFound
	}
	stored := cloneDelivery(&d)
	repo.db.deliveries[d.ID] = &stored
	return cloneDelivery(&stored), nil
}
