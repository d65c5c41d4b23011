package workflow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/user"
)

// firstScanLookback bounds how far back the first scan of a time-based workflow looks.
const firstScanLookback = time.Minute

var (
	ErrNotFound         = core.NewNotFoundError("workflow")
	ErrDeliveryNotFound = core.NewNotFoundError("delivery")
	ErrNameExists       = errors.New("a workflow with this name already exists")
	ErrNotDead          = errors.New("only dead deliveries can be retried")
)

type (
	Repository interface {
		CreateWorkflow(ctx context.Context, wf Workflow, exec ...core.DBExecutor) (Workflow, error)
		GetWorkflow(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (Workflow, error)
		GetWorkflowByName(ctx context.Context, orgID, name string, exec ...core.DBExecutor) (Workflow, error)
		QueryWorkflows(ctx context.Context, orgID string, filter WorkflowFilter, exec ...core.DBExecutor) ([]Workflow, error)
		// ListActiveWorkflows lists the active workflows of every organization triggered by event.
		ListActiveWorkflows(ctx context.Context, event string, exec ...core.DBExecutor) ([]Workflow, error)
		UpdateWorkflow(ctx context.Context, wf Workflow, exec ...core.DBExecutor) (Workflow, error)
		SetLastScannedAt(ctx context.Context, orgID, id string, at time.Time, exec ...core.DBExecutor) error
		DeleteWorkflow(ctx context.Context, orgID, id string, exec ...core.DBExecutor) error

		// EnqueueDeliveries inserts the deliveries whose idempotency key is new and returns how many were inserted.
		EnqueueDeliveries(ctx context.Context, deliveries []Delivery, exec ...core.DBExecutor) (int, error)
		// ClaimDueDeliveries locks, until now + lease, up to limit pending or failed deliveries
		// due at now and not locked by another worker, oldest first.
		ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lease time.Duration, exec ...core.DBExecutor) ([]Delivery, error)
		GetDelivery(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (Delivery, error)
		QueryDeliveries(ctx context.Context, orgID string, filter DeliveryFilter, exec ...core.DBExecutor) ([]Delivery, error)
		UpdateDelivery(ctx context.Context, d Delivery, exec ...core.DBExecutor) (Delivery, error)
	}

	// Directory resolves the people and instances events refer to.
	Directory interface {
		ListUsers(ctx context.Context, orgID string, ids []string) ([]user.User, error)
		AdminIDs(ctx context.Context, orgID string) ([]string, error)
		CourseTrainerIDs(ctx context.Context, orgID, courseID string) ([]string, error)
		CourseStudentIDs(ctx context.Context, orgID, courseID string) ([]string, error)
		// InstancesStartingBetween returns the scheduled instances, of all organizations, starting in (from, to].
		InstancesStartingBetween(ctx context.Context, from, to time.Time) ([]session.Instance, error)
		InstanceData(ctx context.Context, inst session.Instance) map[string]interface{}
	}

	Service struct {
		repo   Repository
		dir    Directory
		logger core.Logger
		worker *Worker // set: deliveries are sent as soon as they are queued
		now    func() time.Time
	}
)

func NewService(repo Repository, dir Directory, logger core.Logger) *Service {
	return &Service{repo: repo, dir: dir, logger: logger, now: time.Now}
}

// EnableSyncDelivery makes Publish drain the delivery queue with w before returning.
func (svc *Service) EnableSyncDelivery(w *Worker) { svc.worker = w }

func (svc *Service) checkName(ctx context.Context, orgID, name, excludeID string) error {
	wf, err := svc.repo.GetWorkflowByName(ctx, orgID, name)
	switch {
	case err == nil && wf.ID != excludeID:
		return core.NewValidationError(ErrNameExists, core.FieldError{Field: "name", Error: ErrNameExists.Error()})
	case err != nil && errors.Cause(err) != ErrNotFound:
		return errors.Wrap(err, "getting workflow by name")
	}
	return nil
}

// Create creates a validated NewWorkflow.
func (svc *Service) Create(ctx context.Context, orgID string, nw NewWorkflow) (Workflow, error) {
	if err := svc.checkName(ctx, orgID, nw.Name, ""); err != nil {
		return Workflow{}, err
	}
	now := svc.now().UTC()
	wf, err := svc.repo.CreateWorkflow(ctx, Workflow{
		OrganizationID: orgID,
		Name:           nw.Name,
		Description:    nw.Description,
		IsActive:       nw.isActive(),
		Trigger:        nw.Trigger,
		Conditions:     nw.Conditions,
		Actions:        nw.Actions,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	return wf, errors.Wrap(err, "creating workflow")
}

func (svc *Service) Get(ctx context.Context, orgID, id string) (Workflow, error) {
	return svc.repo.GetWorkflow(ctx, orgID, id)
}

func (svc *Service) Query(ctx context.Context, orgID string, filter WorkflowFilter) ([]Workflow, error) {
	return svc.repo.QueryWorkflows(ctx, orgID, filter)
}

// Replace replaces a workflow's definition with a validated NewWorkflow.
func (svc *Service) Replace(ctx context.Context, orgID, id string, nw NewWorkflow) (Workflow, error) {
	wf, err := svc.repo.GetWorkflow(ctx, orgID, id)
	if err != nil {
		return Workflow{}, err
	}
	if err = svc.checkName(ctx, orgID, nw.Name, wf.ID); err != nil {
		return Workflow{}, err
	}
	return svc.replace(ctx, wf, nw)
}

func (svc *Service) replace(ctx context.Context, wf Workflow, nw NewWorkflow) (Workflow, error) {
	if wf.Trigger != nw.Trigger {
		wf.LastScannedAt = nil
	}
	wf.Name = nw.Name
	wf.Description = nw.Description
	wf.IsActive = nw.isActive()
	wf.Trigger = nw.Trigger
	wf.Conditions = nw.Conditions
	wf.Actions = nw.Actions
	wf.UpdatedAt = svc.now().UTC()
	wf, err := svc.repo.UpdateWorkflow(ctx, wf)
	return wf, errors.Wrap(err, "updating workflow")
}

func (svc *Service) Delete(ctx context.Context, orgID, id string) error {
	if _, err := svc.repo.GetWorkflow(ctx, orgID, id); err != nil {
		return err
	}
	return errors.Wrap(svc.repo.DeleteWorkflow(ctx, orgID, id), "deleting workflow")
}

type importFile struct {
	Workflows []NewWorkflow `yaml:"workflows"`
}

// Import creates or replaces, by name, the workflows defined in a YAML (or JSON) document:
//
//	workflows:
//	  - name: session reminder
//	    trigger: {event: session.instance.starts, offset: -24h}
//	    actions:
//	      - channel: email
//	        recipients: [students]
//	        subject: "Reminder: {{.data.session.title}}"
//	        body: "See you at {{.data.instance.local_starts_at}}"
//
// Nothing is imported unless every workflow is valid.
func (svc *Service) Import(ctx context.Context, orgID string, r io.Reader, validate *validator.Validate) ([]Workflow, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading workflows")
	}
	var file importFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err = dec.Decode(&file); err != nil {
		return nil, core.NewFieldError("workflows", "invalid document: "+err.Error())
	}
	if len(file.Workflows) == 0 {
		return nil, core.NewFieldError("workflows", "no workflow defined")
	}

	seen := make(map[string]bool, len(file.Workflows))
	for i := range file.Workflows {
		nw := &file.Workflows[i]
		if err = nw.Validate(validate); err != nil {
			return nil, errors.Wrapf(err, "workflow #%d", i+1)
		}
		if seen[nw.Name] {
			return nil, core.NewFieldError("workflows", "duplicate workflow name "+strconv.Quote(nw.Name))
		}
		seen[nw.Name] = true
	}

	wfs := make([]Workflow, 0, len(file.Workflows))
	for _, nw := range file.Workflows {
		existing, err := svc.repo.GetWorkflowByName(ctx, orgID, nw.Name)
		var wf Workflow
		switch {
		case err == nil:
			wf, err = svc.replace(ctx, existing, nw)
		case errors.Cause(err) == ErrNotFound:
			wf, err = svc.Create(ctx, orgID, nw)
		}
		if err != nil {
			return wfs, errors.Wrapf(err, "importing workflow %q", nw.Name)
		}
		wfs = append(wfs, wf)
	}
	return wfs, nil
}

// Publish dispatches evt; it makes the service a core.EventPublisher.
func (svc *Service) Publish(ctx context.Context, evt core.Event) error {
	if _, err := svc.Dispatch(ctx, evt); err != nil {
		return err
	}
	if svc.worker != nil {
		if _, err := svc.worker.Drain(ctx); err != nil {
			return errors.Wrap(err, "draining deliveries")
		}
	}
	return nil
}

// Dispatch queues the deliveries of every active workflow of evt's organization that matches evt,
// and returns how many were queued. Dispatching the same event twice queues nothing new.
func (svc *Service) Dispatch(ctx context.Context, evt core.Event) (int, error) {
	if evt.Type == timeBasedEventType {
		return 0, nil // fired by FireDue
	}
	active := true
	wfs, err := svc.repo.QueryWorkflows(ctx, evt.OrganizationID, WorkflowFilter{Event: evt.Type, IsActive: &active})
	if err != nil {
		return 0, errors.Wrap(err, "querying workflows")
	}
	return svc.dispatch(ctx, wfs, evt)
}

func (svc *Service) dispatch(ctx context.Context, wfs []Workflow, evt core.Event) (int, error) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = svc.now().UTC()
	}

	var deliveries []Delivery
	for _, wf := range wfs {
		if !wf.IsActive || wf.OrganizationID != evt.OrganizationID || !wf.Matches(evt) {
			continue
		}
		for i, act := range wf.Actions {
			ds, err := svc.render(ctx, wf, i, act, evt)
			if err != nil {
				return 0, err
			}
			deliveries = append(deliveries, ds...)
		}
	}
	if len(deliveries) == 0 {
		return 0, nil
	}
	n, err := svc.repo.EnqueueDeliveries(ctx, deliveries)
	return n, errors.Wrap(err, "enqueuing deliveries")
}

// IdempotencyKey identifies the delivery of one action of a workflow to one recipient for one event.
func IdempotencyKey(workflowID, eventKey string, action int, recipientID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", workflowID, eventKey, action, recipientID)))
	return hex.EncodeToString(sum[:])
}

func (svc *Service) render(ctx context.Context, wf Workflow, idx int, act Action, evt core.Event) ([]Delivery, error) {
	ids, err := svc.resolveRecipients(ctx, evt, act.Recipients)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	users, err := svc.dir.ListUsers(ctx, evt.OrganizationID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "listing recipients")
	}

	subjectTmpl, err := parseTemplate("subject", act.Subject)
	if err != nil {
		return nil, errors.Wrapf(err, "workflow %s: parsing subject", wf.ID)
	}
	bodyTmpl, err := parseTemplate("body", act.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "workflow %s: parsing body", wf.ID)
	}

	now := svc.now().UTC()
	deliveries := make([]Delivery, 0, len(users))
	for _, u := range users {
		if !u.IsActive {
			continue
		}
		data := map[string]interface{}{
			"event":    envelope(evt),
			"data":     evt.Data,
			"workflow": map[string]interface{}{"id": wf.ID, "name": wf.Name},
			"recipient": map[string]interface{}{
				"id":       u.ID,
				"name":     u.Name,
				"username": u.Username,
				"email":    u.Email,
			},
		}
		var subject, body bytes.Buffer
		if err = subjectTmpl.Execute(&subject, data); err == nil {
			err = bodyTmpl.Execute(&body, data)
		}
		if err != nil {
			svc.logger.Error("rendering workflow action", err, map[string]interface{}{"workflow": wf.ID, "action": idx, "event": evt.Key})
			continue
		}

		deliveries = append(deliveries, Delivery{
			OrganizationID: evt.OrganizationID,
			WorkflowID:     wf.ID,
			IdempotencyKey: IdempotencyKey(wf.ID, evt.Key, idx, u.ID),
			EventType:      evt.Type,
			EventKey:       evt.Key,
			Channel:        act.Channel,
			RecipientID:    u.ID,
			Subject:        subject.String(),
			Body:           body.String(),
			Status:         StatusPending,
			NextAttemptAt:  now,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	return deliveries, nil
}

// resolveRecipients turns recipient designations into distinct user ids, in designation order.
func (svc *Service) resolveRecipients(ctx context.Context, evt core.Event, recipients []string) ([]string, error) {
	var ids []string
	for _, r := range recipients {
		if id, ok := isUserRecipient(r); ok {
			ids = append(ids, id)
			continue
		}

		var (
			found []string
			err   error
		)
		switch r {
		case RecipientActor:
			if evt.ActorID != "" {
				found = []string{evt.ActorID}
			}
		case RecipientParticipants:
			found = evt.RecipientIDs
		case RecipientAdmins:
			found, err = svc.dir.AdminIDs(ctx, evt.OrganizationID)
		case RecipientTrainers:
			if evt.CourseID != "" {
				found, err = svc.dir.CourseTrainerIDs(ctx, evt.OrganizationID, evt.CourseID)
			}
		case RecipientStudents:
			if evt.CourseID != "" {
				found, err = svc.dir.CourseStudentIDs(ctx, evt.OrganizationID, evt.CourseID)
			}
		}
		if err != nil {
			return nil, errors.Wrapf(err, "resolving %s", r)
		}
		ids = append(ids, found...)
	}
	return core.UniqueStrings(ids), nil
}

// FireDue dispatches the time-based workflows whose fire time (instance start + offset) passed since
// their previous scan. The first scan of a workflow looks back one minute.
func (svc *Service) FireDue(ctx context.Context) (int, error) {
	now := svc.now().UTC()
	wfs, err := svc.repo.ListActiveWorkflows(ctx, timeBasedEventType)
	if err != nil {
		return 0, errors.Wrap(err, "listing time-based workflows")
	}

	var total int
	for _, wf := range wfs {
		if err = ctx.Err(); err != nil {
			return total, err
		}
		from := now.Add(-firstScanLookback)
		if wf.LastScannedAt != nil {
			from = wf.LastScannedAt.UTC()
		}
		if !from.Before(now) {
			continue
		}

		n, err := svc.fire(ctx, wf, from, now)
		if err != nil {
			svc.logger.Error("firing time-based workflow", err, map[string]interface{}{"workflow": wf.ID, "org": wf.OrganizationID})
			continue
		}
		total += n
		if err = svc.repo.SetLastScannedAt(ctx, wf.OrganizationID, wf.ID, now); err != nil {
			return total, errors.Wrap(err, "setting last scan time")
		}
	}
	return total, nil
}

func (svc *Service) fire(ctx context.Context, wf Workflow, from, to time.Time) (int, error) {
	offset := wf.Trigger.Offset.Std()
	insts, err := svc.dir.InstancesStartingBetween(ctx, from.Add(-offset), to.Add(-offset))
	if err != nil {
		return 0, errors.Wrap(err, "listing starting instances")
	}

	var total int
	for _, inst := range insts {
		if inst.OrganizationID != wf.OrganizationID {
			continue
		}
		evt := core.Event{
			// a rescheduled instance fires again for its new start
			Key:            fmt.Sprintf("%s@%d", inst.ID, inst.StartsAt.Unix()),
			OrganizationID: inst.OrganizationID,
			Type:           timeBasedEventType,
			OccurredAt:     inst.StartsAt.Add(offset),
			CourseID:       inst.CourseID,
			InstanceID:     inst.ID,
			Data:           svc.dir.InstanceData(ctx, inst),
		}
		if inst.TrainerID != "" {
			evt.RecipientIDs = []string{inst.TrainerID}
		}
		n, err := svc.dispatch(ctx, []Workflow{wf}, evt)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (svc *Service) ListDeliveries(ctx context.Context, orgID string, filter DeliveryFilter) ([]Delivery, error) {
	filter.Clean()
	return svc.repo.QueryDeliveries(ctx, orgID, filter)
}

// RetryDelivery puts a dead delivery back in the queue with a fresh attempt count.
func (svc *Service) RetryDelivery(ctx context.Context, orgID, id string) (Delivery, error) {
	d, err := svc.repo.GetDelivery(ctx, orgID, id)
	if err != nil {
		return Delivery{}, err
	}
	if d.Status != StatusDead {
		return Delivery{}, core.NewValidationError(ErrNotDead, core.FieldError{Field: "status", Error: ErrNotDead.Error()})
	}
	now := svc.now().UTC()
	d.Status = StatusPending
	d.Attempts = 0
	d.NextAttemptAt = now
	d.LockedUntil = nil
	d.UpdatedAt = now
	if d, err = svc.repo.UpdateDelivery(ctx, d); err != nil {
		return Delivery{}, errors.Wrap(err, "updating delivery")
	}
	if svc.worker != nil {
		if _, err = svc.worker.Drain(ctx); err != nil {
			return d, errors.Wrap(err, "draining deliveries")
		}
		return svc.repo.GetDelivery(ctx, orgID, id)
	}
	return d, nil
}
