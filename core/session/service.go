package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/course"
	"github.com/trezcool/campus/core/recurrence"
	"github.com/trezcool/campus/core/user"
)

const (
	defaultListRange = 30 * 24 * time.Hour
	maxListRange     = 366 * 24 * time.Hour
)

var (
	ErrNotFound          = core.NewNotFoundError("session")
	ErrInstanceNotFound  = core.NewNotFoundError("session instance")
	ErrInstanceCancelled = errors.New("the instance is cancelled")
)

type (
	Repository interface {
		CreateSession(ctx context.Context, s Session, exec ...core.DBExecutor) (Session, error)
		GetSession(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (Session, error)
		QuerySessions(ctx context.Context, orgID string, filter SessionFilter, exec ...core.DBExecutor) ([]Session, error)
		// ListAllSessions lists the sessions of every active organization.
		ListAllSessions(ctx context.Context, exec ...core.DBExecutor) ([]Session, error)
		UpdateSession(ctx context.Context, s Session, exec ...core.DBExecutor) (Session, error)
		// DeleteSession also deletes the session's instances.
		DeleteSession(ctx context.Context, orgID, id string, exec ...core.DBExecutor) error

		GetInstance(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (Instance, error)
		QueryInstances(ctx context.Context, orgID string, filter InstanceFilter, exec ...core.DBExecutor) ([]Instance, error)
		// OverlappingInstances returns the scheduled instances of the organization overlapping [from, to)
		// and given by one of trainerIDs or held at one of locations (case-insensitive).
		OverlappingInstances(ctx context.Context, orgID string, trainerIDs, locations []string, from, to time.Time, exec ...core.DBExecutor) ([]Instance, error)
		// StartingBetween returns the scheduled instances, of all organizations, starting in (from, to].
		StartingBetween(ctx context.Context, from, to time.Time, exec ...core.DBExecutor) ([]Instance, error)
		CreateInstances(ctx context.Context, instances []Instance, exec ...core.DBExecutor) error
		UpdateInstance(ctx context.Context, inst Instance, exec ...core.DBExecutor) (Instance, error)
		DeleteInstances(ctx context.Context, orgID string, ids []string, exec ...core.DBExecutor) error
	}

	Courses interface {
		GetInOrg(ctx context.Context, orgID, id string) (course.Course, error)
		EnrolledCourseIDs(ctx context.Context, orgID, studentID string) ([]string, error)
	}

	Organizations interface {
		Timezone(ctx context.Context, orgID string) (string, error)
	}

	Service struct {
		repo    Repository
		tx      core.Transactor
		courses Courses
		orgs    Organizations
		events  core.EventPublisher
		logger  core.Logger
		horizon time.Duration
		now     func() time.Time
	}
)

func NewService(tx core.Transactor, repo Repository, courses Courses, orgs Organizations, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		repo:    repo,
		tx:      tx,
		courses: courses,
		orgs:    orgs,
		logger:  logger,
		horizon: conf.Scheduler.SessionHorizon,
		now:     time.Now,
	}
}

// SetPublisher sets where domain events are published.
func (svc *Service) SetPublisher(pub core.EventPublisher) { svc.events = pub }

// Horizon returns how far ahead instances are materialized.
func (svc *Service) Horizon() time.Duration { return svc.horizon }

func (svc *Service) checkTrainer(ctx context.Context, orgID, courseID, trainerID string) error {
	if trainerID == "" {
		return nil
	}
	c, err := svc.courses.GetInOrg(ctx, orgID, courseID)
	if err != nil {
		return err
	}
	if !c.HasTrainer(trainerID) {
		return core.NewFieldError("trainer_id", "the trainer is not assigned to this course")
	}
	return nil
}

// Create creates a validated NewSession and materializes its instances up to the horizon.
func (svc *Service) Create(ctx context.Context, orgID string, ns NewSession) (Session, GenerateResult, error) {
	var res GenerateResult
	if _, err := svc.courses.GetInOrg(ctx, orgID, ns.CourseID); err != nil {
		if errors.Cause(err) == course.ErrNotFound {
			return Session{}, res, core.NewFieldError("course_id", "course not found")
		}
		return Session{}, res, err
	}
	if err := svc.checkTrainer(ctx, orgID, ns.CourseID, ns.TrainerID); err != nil {
		return Session{}, res, err
	}
	if ns.Timezone == "" {
		tz, err := svc.orgs.Timezone(ctx, orgID)
		if err != nil {
			return Session{}, res, errors.Wrap(err, "getting organization time zone")
		}
		ns.Timezone = tz
	}

	now := svc.now().UTC()
	s := Session{
		OrganizationID:  orgID,
		CourseID:        ns.CourseID,
		Title:           ns.Title,
		Location:        ns.Location,
		TrainerID:       ns.TrainerID,
		Timezone:        ns.Timezone,
		StartsAt:        ns.StartsAt,
		DurationMinutes: ns.DurationMinutes,
		Recurrence:      ns.Recurrence,
		Capacity:        ns.Capacity,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	p, err := svc.plan(s, nil, now.Add(svc.horizon))
	if err != nil {
		return Session{}, res, err
	}
	if err = svc.checkConflicts(ctx, s, p, ns.AllowConflicts); err != nil {
		return Session{}, res, err
	}

	err = svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if s, err = svc.repo.CreateSession(ctx, s, core.Execs(exec)...); err != nil {
			return errors.Wrap(err, "creating session")
		}
		res, err = svc.apply(ctx, exec, s, p)
		return err
	})
	return s, res, err
}

func (svc *Service) Get(ctx context.Context, orgID, id string) (Session, error) {
	return svc.repo.GetSession(ctx, orgID, id)
}

func (svc *Service) Query(ctx context.Context, orgID string, filter SessionFilter) ([]Session, error) {
	return svc.repo.QuerySessions(ctx, orgID, filter)
}

// Update applies a validated UpdateSession, then regenerates the session's future instances.
func (svc *Service) Update(ctx context.Context, orgID, id string, us UpdateSession) (Session, GenerateResult, error) {
	var res GenerateResult
	s, err := svc.repo.GetSession(ctx, orgID, id)
	if err != nil {
		return Session{}, res, err
	}

	if us.Title != "" {
		s.Title = us.Title
	}
	if us.Location != nil {
		s.Location = *us.Location
	}
	if us.TrainerID != nil && *us.TrainerID != s.TrainerID {
		if err = svc.checkTrainer(ctx, orgID, s.CourseID, *us.TrainerID); err != nil {
			return Session{}, res, err
		}
		s.TrainerID = *us.TrainerID
	}
	if us.Timezone != "" {
		s.Timezone = us.Timezone
	}
	if us.StartsAt != "" {
		s.StartsAt = us.StartsAt
	}
	if us.DurationMinutes > 0 {
		s.DurationMinutes = us.DurationMinutes
	}
	switch {
	case us.RemoveRecurrence:
		s.Recurrence = nil
	case us.Recurrence != nil:
		s.Recurrence = us.Recurrence
	}
	if us.Capacity != nil {
		s.Capacity = *us.Capacity
	}
	s.UpdatedAt = svc.now().UTC()

	existing, err := svc.repo.QueryInstances(ctx, orgID, InstanceFilter{SessionID: s.ID})
	if err != nil {
		return Session{}, res, errors.Wrap(err, "querying instances")
	}
	p, err := svc.plan(s, existing, svc.now().UTC().Add(svc.horizon))
	if err != nil {
		return Session{}, res, err
	}
	if err = svc.checkConflicts(ctx, s, p, us.AllowConflicts); err != nil {
		return Session{}, res, err
	}

	err = svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		if s, err = svc.repo.UpdateSession(ctx, s, core.Execs(exec)...); err != nil {
			return errors.Wrap(err, "updating session")
		}
		res, err = svc.apply(ctx, exec, s, p)
		return err
	})
	return s, res, err
}

func (svc *Service) Delete(ctx context.Context, orgID, id string) error {
	if _, err := svc.repo.GetSession(ctx, orgID, id); err != nil {
		return err
	}
	return errors.Wrap(svc.repo.DeleteSession(ctx, orgID, id), "deleting session")
}

// Generate materializes the session's instances up to `until`. It can be run any number of times:
// instances are keyed by their occurrence key, exceptions and past instances are left untouched.
func (svc *Service) Generate(ctx context.Context, orgID, sessionID string, until time.Time, allowConflicts bool) (GenerateResult, error) {
	s, err := svc.repo.GetSession(ctx, orgID, sessionID)
	if err != nil {
		return GenerateResult{}, err
	}
	return svc.generate(ctx, s, until, allowConflicts)
}

func (svc *Service) generate(ctx context.Context, s Session, until time.Time, allowConflicts bool) (GenerateResult, error) {
	existing, err := svc.repo.QueryInstances(ctx, s.OrganizationID, InstanceFilter{SessionID: s.ID})
	if err != nil {
		return GenerateResult{}, errors.Wrap(err, "querying instances")
	}
	p, err := svc.plan(s, existing, until)
	if err != nil {
		return GenerateResult{}, err
	}
	if p.empty() {
		return GenerateResult{}, nil
	}
	if err = svc.checkConflicts(ctx, s, p, allowConflicts); err != nil {
		return GenerateResult{}, err
	}

	var res GenerateResult
	err = svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		res, err = svc.apply(ctx, exec, s, p)
		return err
	})
	return res, err
}

// ExtendHorizon materializes the instances of every session up to now + horizon.
func (svc *Service) ExtendHorizon(ctx context.Context) (GenerateResult, error) {
	return svc.ExtendTo(ctx, svc.now().UTC().Add(svc.horizon))
}

// ExtendTo materializes the instances of every session up to `until`.
// Conflicts are not enforced: the series were accepted when created.
func (svc *Service) ExtendTo(ctx context.Context, until time.Time) (GenerateResult, error) {
	var total GenerateResult
	sessions, err := svc.repo.ListAllSessions(ctx)
	if err != nil {
		return total, errors.Wrap(err, "listing sessions")
	}

	for _, s := range sessions {
		if err = ctx.Err(); err != nil {
			return total, err
		}
		res, err := svc.generate(ctx, s, until, true)
		if err != nil {
			svc.logger.Error("extending session horizon", err, map[string]interface{}{"session": s.ID, "org": s.OrganizationID})
			continue
		}
		total.Created += res.Created
		total.Updated += res.Updated
		total.Removed += res.Removed
	}
	return total, nil
}

// plan holds the instance changes needed to bring a session in line with its rule.
type plan struct {
	create []Instance
	update []Instance
	remove []Instance
	// replaced holds the ids of the existing instances that do not hold their slot anymore
	replaced map[string]bool
}

func (p plan) empty() bool {
	return len(p.create) == 0 && len(p.update) == 0 && len(p.remove) == 0
}

// plan compares the occurrences of s with its existing instances. Instances starting before now and
// exceptions are kept. Occurrences are created up to `until`; existing instances past `until` are
// still checked against the rule.
func (svc *Service) plan(s Session, existing []Instance, until time.Time) (plan, error) {
	now := svc.now().UTC()
	p := plan{replaced: make(map[string]bool)}

	to := until
	byKey := make(map[string]Instance, len(existing))
	for _, inst := range existing {
		byKey[inst.OccurrenceKey] = inst
		if !inst.StartsAt.Before(to) {
			to = inst.StartsAt.Add(time.Minute)
		}
	}
	if !now.Before(to) {
		return p, nil
	}

	occs, err := s.Expand(now, to)
	if err != nil {
		return p, core.NewFieldError("starts_at", err.Error())
	}

	produced := make(map[string]bool, len(occs))
	for _, occ := range occs {
		produced[occ.Key] = true
		inst, ok := byKey[occ.Key]
		if !ok {
			if occ.Start.Before(until) {
				p.create = append(p.create, Instance{
					OrganizationID: s.OrganizationID,
					SessionID:      s.ID,
					CourseID:       s.CourseID,
					TrainerID:      s.TrainerID,
					Location:       s.Location,
					OccurrenceKey:  occ.Key,
					StartsAt:       occ.Start,
					EndsAt:         occ.End,
					Status:         StatusScheduled,
					CreatedAt:      now,
					UpdatedAt:      now,
				})
			}
			continue
		}
		// keys are wall clock only: a new timezone maps past instances onto future occurrences
		if inst.IsException || inst.StartsAt.Before(now) {
			continue
		}
		if !inst.StartsAt.Equal(occ.Start) || !inst.EndsAt.Equal(occ.End) || inst.TrainerID != s.TrainerID || inst.Location != s.Location {
			inst.StartsAt = occ.Start
			inst.EndsAt = occ.End
			inst.TrainerID = s.TrainerID
			inst.Location = s.Location
			inst.UpdatedAt = now
			p.update = append(p.update, inst)
			p.replaced[inst.ID] = true
		}
	}

	for _, inst := range existing {
		if produced[inst.OccurrenceKey] || inst.IsException || inst.StartsAt.Before(now) {
			continue
		}
		p.remove = append(p.remove, inst)
		p.replaced[inst.ID] = true
	}
	return p, nil
}

func (svc *Service) apply(ctx context.Context, exec core.DBExecutor, s Session, p plan) (GenerateResult, error) {
	var res GenerateResult
	if len(p.remove) > 0 {
		ids := make([]string, 0, len(p.remove))
		for _, inst := range p.remove {
			ids = append(ids, inst.ID)
		}
		if err := svc.repo.DeleteInstances(ctx, s.OrganizationID, ids, core.Execs(exec)...); err != nil {
			return res, errors.Wrap(err, "deleting instances")
		}
		res.Removed = len(ids)
	}
	for _, inst := range p.update {
		if _, err := svc.repo.UpdateInstance(ctx, inst, core.Execs(exec)...); err != nil {
			return res, errors.Wrap(err, "updating instance")
		}
		res.Updated++
	}
	if len(p.create) > 0 {
		for i := range p.create {
			p.create[i].SessionID = s.ID
		}
		if err := svc.repo.CreateInstances(ctx, p.create, core.Execs(exec)...); err != nil {
			return res, errors.Wrap(err, "creating instances")
		}
		res.Created = len(p.create)
	}
	return res, nil
}

func resourceKeys(trainerID, location string) []string {
	var keys []string
	if trainerID != "" {
		keys = append(keys, "trainer:"+trainerID)
	}
	if loc := strings.ToLower(strings.TrimSpace(location)); loc != "" {
		keys = append(keys, "location:"+loc)
	}
	return keys
}

// checkConflicts returns a ConflictError listing the planned instances that overlap other
// scheduled instances of the same trainer or location, unless allow is set.
func (svc *Service) checkConflicts(ctx context.Context, s Session, p plan, allow bool) error {
	candidates := append(append([]Instance(nil), p.create...), p.update...)
	if allow || len(candidates) == 0 {
		return nil
	}
	conflicts, err := svc.findConflicts(ctx, s.OrganizationID, candidates, p.replaced)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return core.NewConflictError("the session conflicts with other scheduled sessions", conflicts)
	}
	return nil
}

// findConflicts detects overlaps between candidates and the organization's scheduled instances.
// Instances whose id is in `ignored` are left out.
func (svc *Service) findConflicts(ctx context.Context, orgID string, candidates []Instance, ignored map[string]bool) ([]Conflict, error) {
	var (
		trainerIDs []string
		locations  []string
		from, to   time.Time
	)
	for i, c := range candidates {
		if c.TrainerID != "" {
			trainerIDs = append(trainerIDs, c.TrainerID)
		}
		if c.Location != "" {
			locations = append(locations, strings.ToLower(c.Location))
		}
		if i == 0 || c.StartsAt.Before(from) {
			from = c.StartsAt
		}
		if i == 0 || c.EndsAt.After(to) {
			to = c.EndsAt
		}
	}
	trainerIDs = core.UniqueStrings(trainerIDs)
	locations = core.UniqueStrings(locations)
	if len(trainerIDs) == 0 && len(locations) == 0 {
		return nil, nil
	}

	others, err := svc.repo.OverlappingInstances(ctx, orgID, trainerIDs, locations, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "querying overlapping instances")
	}

	byRef := make(map[string]Instance, len(candidates)+len(others))
	isCandidate := make(map[string]bool, len(candidates))
	slots := make([]recurrence.Slot, 0, len(candidates)+len(others))
	for i, c := range candidates {
		ref := c.ID
		if ref == "" {
			ref = fmt.Sprintf("new:%d", i)
		}
		byRef[ref] = c
		isCandidate[ref] = true
		slots = append(slots, recurrence.Slot{Ref: ref, Keys: resourceKeys(c.TrainerID, c.Location), Start: c.StartsAt, End: c.EndsAt})
	}
	for _, o := range others {
		if ignored[o.ID] || isCandidate[o.ID] || !o.IsScheduled() {
			continue
		}
		byRef[o.ID] = o
		slots = append(slots, recurrence.Slot{Ref: o.ID, Keys: resourceKeys(o.TrainerID, o.Location), Start: o.StartsAt, End: o.EndsAt})
	}

	var conflicts []Conflict
	for _, c := range recurrence.DetectConflicts(slots) {
		a, b := c.A.Ref, c.B.Ref
		if !isCandidate[a] {
			a, b = b, a
		}
		if !isCandidate[a] {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Resource: c.Key,
			Instance: conflictSlot(byRef[a]),
			With:     conflictSlot(byRef[b]),
		})
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].Instance.StartsAt.Before(conflicts[j].Instance.StartsAt)
	})
	return conflicts, nil
}

func conflictSlot(inst Instance) ConflictSlot {
	return ConflictSlot{
		InstanceID:    inst.ID,
		SessionID:     inst.SessionID,
		OccurrenceKey: inst.OccurrenceKey,
		StartsAt:      inst.StartsAt,
		EndsAt:        inst.EndsAt,
	}
}

func (svc *Service) canManageInstance(actor user.User, inst Instance) bool {
	return actor.OrganizationID == inst.OrganizationID && (actor.IsAdmin() || (inst.TrainerID != "" && inst.TrainerID == actor.ID))
}

// GetInstance returns the instance if it is visible to actor, ErrInstanceNotFound otherwise.
func (svc *Service) GetInstance(ctx context.Context, actor user.User, id string) (Instance, error) {
	inst, err := svc.repo.GetInstance(ctx, actor.OrganizationID, id)
	if err != nil {
		return Instance{}, err
	}
	if actor.IsAdmin() || inst.TrainerID == actor.ID {
		return inst, nil
	}
	courseIDs, err := svc.courses.EnrolledCourseIDs(ctx, actor.OrganizationID, actor.ID)
	if err != nil {
		return Instance{}, errors.Wrap(err, "listing enrolled courses")
	}
	if !core.StringInSlice(inst.CourseID, courseIDs) {
		return Instance{}, ErrInstanceNotFound
	}
	return inst, nil
}

// ListInstances lists the instances visible to actor: all of them for admins, the ones they give
// or belonging to a course they are enrolled in for everybody else.
// The range defaults to 30 days from now and may not exceed 366 days.
func (svc *Service) ListInstances(ctx context.Context, actor user.User, filter InstanceFilter) ([]Instance, error) {
	if filter.From.IsZero() {
		filter.From = svc.now().UTC()
	}
	if filter.To.IsZero() {
		filter.To = filter.From.Add(defaultListRange)
	}
	if !filter.From.Before(filter.To) {
		return nil, core.NewFieldError("to", "must be after from")
	}
	if filter.To.Sub(filter.From) > maxListRange {
		return nil, core.NewFieldError("to", "the range may not exceed 366 days")
	}

	if !actor.IsAdmin() {
		courseIDs, err := svc.courses.EnrolledCourseIDs(ctx, actor.OrganizationID, actor.ID)
		if err != nil {
			return nil, errors.Wrap(err, "listing enrolled courses")
		}
		filter.Visible = &Visibility{TrainerID: actor.ID, CourseIDs: courseIDs}
	}
	return svc.repo.QueryInstances(ctx, actor.OrganizationID, filter)
}

// Cancel cancels a scheduled instance. Admins and the instance's trainer only.
func (svc *Service) Cancel(ctx context.Context, actor user.User, id string, ci CancelInstance) (Instance, error) {
	inst, err := svc.repo.GetInstance(ctx, actor.OrganizationID, id)
	if err != nil {
		return Instance{}, err
	}
	if !svc.canManageInstance(actor, inst) {
		return Instance{}, core.ErrPermissionDenied
	}
	if !inst.IsScheduled() {
		return inst, nil
	}

	inst.Status = StatusCancelled
	inst.IsException = true
	if ci.Note != "" {
		inst.Note = ci.Note
	}
	inst.UpdatedAt = svc.now().UTC()
	if inst, err = svc.repo.UpdateInstance(ctx, inst); err != nil {
		return Instance{}, errors.Wrap(err, "updating instance")
	}

	core.PublishEvent(ctx, svc.events, svc.logger, core.Event{
		Key:            core.EventInstanceCancelled + ":" + inst.ID,
		OrganizationID: inst.OrganizationID,
		Type:           core.EventInstanceCancelled,
		ActorID:        actor.ID,
		CourseID:       inst.CourseID,
		InstanceID:     inst.ID,
		Data:           svc.instanceData(ctx, inst),
	})
	return inst, nil
}

// Reschedule moves a scheduled instance, which becomes an exception to its series.
// Admins and the instance's trainer only.
func (svc *Service) Reschedule(ctx context.Context, actor user.User, id string, ri RescheduleInstance) (Instance, error) {
	inst, err := svc.repo.GetInstance(ctx, actor.OrganizationID, id)
	if err != nil {
		return Instance{}, err
	}
	if !svc.canManageInstance(actor, inst) {
		return Instance{}, core.ErrPermissionDenied
	}
	if !inst.IsScheduled() {
		return Instance{}, core.NewValidationError(ErrInstanceCancelled, core.FieldError{Field: "status", Error: ErrInstanceCancelled.Error()})
	}

	prevStart := inst.StartsAt
	dur := inst.EndsAt.Sub(inst.StartsAt)
	if ri.DurationMinutes > 0 {
		dur = time.Duration(ri.DurationMinutes) * time.Minute
	}
	inst.StartsAt = ri.StartsAt.UTC().Truncate(time.Minute)
	inst.EndsAt = inst.StartsAt.Add(dur)
	if ri.Location != nil {
		inst.Location = *ri.Location
	}
	if ri.Note != "" {
		inst.Note = ri.Note
	}
	inst.IsException = true
	inst.UpdatedAt = svc.now().UTC()

	if !ri.AllowConflicts {
		conflicts, err := svc.findConflicts(ctx, inst.OrganizationID, []Instance{inst}, nil)
		if err != nil {
			return Instance{}, err
		}
		if len(conflicts) > 0 {
			return Instance{}, core.NewConflictError("the new time conflicts with other scheduled sessions", conflicts)
		}
	}

	if inst, err = svc.repo.UpdateInstance(ctx, inst); err != nil {
		return Instance{}, errors.Wrap(err, "updating instance")
	}

	data := svc.instanceData(ctx, inst)
	data["previous_starts_at"] = prevStart.Format(time.RFC3339)
	core.PublishEvent(ctx, svc.events, svc.logger, core.Event{
		Key:            fmt.Sprintf("%s:%s:%d", core.EventInstanceRescheduled, inst.ID, inst.StartsAt.Unix()),
		OrganizationID: inst.OrganizationID,
		Type:           core.EventInstanceRescheduled,
		ActorID:        actor.ID,
		CourseID:       inst.CourseID,
		InstanceID:     inst.ID,
		Data:           data,
	})
	return inst, nil
}

// InstancesStartingBetween returns the scheduled instances, of all organizations, starting in (from, to].
func (svc *Service) InstancesStartingBetween(ctx context.Context, from, to time.Time) ([]Instance, error) {
	if !from.Before(to) {
		return nil, nil
	}
	return svc.repo.StartingBetween(ctx, from.UTC(), to.UTC())
}

// InstanceData returns the event data describing inst.
func (svc *Service) InstanceData(ctx context.Context, inst Instance) map[string]interface{} {
	return svc.instanceData(ctx, inst)
}

func (svc *Service) instanceData(ctx context.Context, inst Instance) map[string]interface{} {
	data := map[string]interface{}{
		"instance": map[string]interface{}{
			"id":         inst.ID,
			"starts_at":  inst.StartsAt.Format(time.RFC3339),
			"ends_at":    inst.EndsAt.Format(time.RFC3339),
			"location":   inst.Location,
			"status":     inst.Status,
			"trainer_id": inst.TrainerID,
			"note":       inst.Note,
		},
	}
	s, err := svc.repo.GetSession(ctx, inst.OrganizationID, inst.SessionID)
	if err != nil {
		svc.logger.Warn("getting session for event data", err, map[string]interface{}{"instance": inst.ID})
		return data
	}
	data["session"] = map[string]interface{}{
		"id":       s.ID,
		"title":    s.Title,
		"timezone": s.Timezone,
	}
	if loc, err := s.Zone(); err == nil {
		data["instance"].(map[string]interface{})["local_starts_at"] = inst.StartsAt.In(loc).Format("Mon 02 Jan 2006 15:04")
	}
	return data
}
