package inmemdb

import (
	"context"
	"strings"
	"time"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/recurrence"
	"github.com/trezcool/campus/core/session"
)

type sessionRepository struct {
	db *DB
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) *sessionRepository {
	return &sessionRepository{db: db}
}

func cloneSession(s *session.Session) session.Session {
	c := *s
	if s.Recurrence != nil {
		r := *s.Recurrence
		r.ByWeekday = append([]recurrence.Weekday(nil), s.Recurrence.ByWeekday...)
		r.ByMonthDay = append([]int(nil), s.Recurrence.ByMonthDay...)
		r.ExDates = cloneStrings(s.Recurrence.ExDates)
		c.Recurrence = &r
	}
	return c
}

func (repo *sessionRepository) CreateSession(_ context.Context, s session.Session, _ ...core.DBExecutor) (session.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.courses[s.CourseID]; !ok {
		return session.Session{}, session.ErrNotFound
	}
	s.ID = newID()
	stored := cloneSession(&s)
	repo.db.sessions[s.ID] = &stored
	return cloneSession(&stored), nil
}

func (repo *sessionRepository) GetSession(_ context.Context, orgID, id string, _ ...core.DBExecutor) (session.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	s, ok := repo.db.sessions[id]
	if !ok || s.OrganizationID != orgID {
		return session.Session{}, session.ErrNotFound
	}
	return cloneSession(s), nil
}

func (repo *sessionRepository) QuerySessions(_ context.Context, orgID string, filter session.SessionFilter, _ ...core.DBExecutor) ([]session.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	sessions := make([]session.Session, 0)
	for _, s := range repo.db.sessions {
		switch {
		case s.OrganizationID != orgID:
		case filter.CourseID != "" && s.CourseID != filter.CourseID:
		case filter.TrainerID != "" && s.TrainerID != filter.TrainerID:
		default:
			sessions = append(sessions, cloneSession(s))
		}
	}
	orderBy(sessions, nil, core.DBOrdering{Field: "created_at", Ascending: true}, compareSessions)
	return sessions, nil
}

func compareSessions(a, b session.Session, _ string) int {
	if c := compareTimes(a.CreatedAt, b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func (repo *sessionRepository) ListAllSessions(_ context.Context, _ ...core.DBExecutor) ([]session.Session, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	sessions := make([]session.Session, 0, len(repo.db.sessions))
	for _, s := range repo.db.sessions {
		if org, ok := repo.db.orgs[s.OrganizationID]; ok && org.IsActive {
			sessions = append(sessions, cloneSession(s))
		}
	}
	orderBy(sessions, nil, core.DBOrdering{Field: "created_at", Ascending: true}, compareSessions)
	return sessions, nil
}

func (repo *sessionRepository) UpdateSession(_ context.Context, s session.Session, _ ...core.DBExecutor) (session.Session, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	old, ok := repo.db.sessions[s.ID]
	if !ok || old.OrganizationID != s.OrganizationID {
		return session.Session{}, session.ErrNotFound
	}
	stored := cloneSession(&s)
	repo.db.sessions[s.ID] = &stored
	return cloneSession(&stored), nil
}

func (repo *sessionRepository) DeleteSession(_ context.Context, orgID, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	s, ok := repo.db.sessions[id]
	if !ok || s.OrganizationID != orgID {
		return session.ErrNotFound
	}
	repo.db.deleteSession(id)
	return nil
}

// deleteSession removes a session and its instances. The caller holds the lock.
func (db *DB) deleteSession(id string) {
	delete(db.sessions, id)
	for iid, inst := range db.instances {
		if inst.SessionID == id {
			delete(db.instances, iid)
		}
	}
}

func (repo *sessionRepository) GetInstance(_ context.Context, orgID, id string, _ ...core.DBExecutor) (session.Instance, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	inst, ok := repo.db.instances[id]
	if !ok || inst.OrganizationID != orgID {
		return session.Instance{}, session.ErrInstanceNotFound
	}
	return *inst, nil
}

func (repo *sessionRepository) QueryInstances(_ context.Context, orgID string, filter session.InstanceFilter, _ ...core.DBExecutor) ([]session.Instance, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	instances := make([]session.Instance, 0)
	for _, inst := range repo.db.instances {
		if inst.OrganizationID == orgID && matchInstance(inst, filter) {
			instances = append(instances, *inst)
		}
	}
	sortInstances(instances)
	return instances, nil
}

func matchInstance(inst *session.Instance, filter session.InstanceFilter) bool {
	switch {
	case !filter.From.IsZero() && inst.StartsAt.Before(filter.From):
	case !filter.To.IsZero() && !inst.StartsAt.Before(filter.To):
	case filter.CourseID != "" && inst.CourseID != filter.CourseID:
	case filter.SessionID != "" && inst.SessionID != filter.SessionID:
	case filter.TrainerID != "" && inst.TrainerID != filter.TrainerID:
	case filter.Status != "" && inst.Status != filter.Status:
	case filter.Visible != nil &&
		!(filter.Visible.TrainerID != "" && inst.TrainerID == filter.Visible.TrainerID) &&
		!core.StringInSlice(inst.CourseID, filter.Visible.CourseIDs):
	default:
		return true
	}
	return false
}

func sortInstances(instances []session.Instance) {
	orderBy(instances, nil, core.DBOrdering{Field: "starts_at", Ascending: true}, func(a, b session.Instance, _ string) int {
		if c := compareTimes(a.StartsAt, b.StartsAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func (repo *sessionRepository) OverlappingInstances(_ context.Context, orgID string, trainerIDs, locations []string, from, to time.Time, _ ...core.DBExecutor) ([]session.Instance, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	locs := make(map[string]bool, len(locations))
	for _, l := range locations {
		if l != "" {
			locs[strings.ToLower(l)] = true
		}
	}

	instances := make([]session.Instance, 0)
	for _, inst := range repo.db.instances {
		if inst.OrganizationID != orgID || !inst.IsScheduled() {
			continue
		}
		if !inst.StartsAt.Before(to) || !from.Before(inst.EndsAt) {
			continue
		}
		byTrainer := inst.TrainerID != "" && core.StringInSlice(inst.TrainerID, trainerIDs)
		atLocation := inst.Location != "" && locs[strings.ToLower(inst.Location)]
		if byTrainer || atLocation {
			instances = append(instances, *inst)
		}
	}
	sortInstances(instances)
	return instances, nil
}

func (repo *sessionRepository) StartingBetween(_ context.Context, from, to time.Time, _ ...core.DBExecutor) ([]session.Instance, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	instances := make([]session.Instance, 0)
	for _, inst := range repo.db.instances {
		if !inst.IsScheduled() || !inst.StartsAt.After(from) || inst.StartsAt.After(to) {
			continue
		}
		if org, ok := repo.db.orgs[inst.OrganizationID]; ok && org.IsActive {
			instances = append(instances, *inst)
		}
	}
	sortInstances(instances)
	return instances, nil
}

func (repo *sessionRepository) CreateInstances(_ context.Context, instances []session.Instance, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, inst := range instances {
		for _, ex := range repo.db.instances {
			if ex.SessionID == inst.SessionID && ex.OccurrenceKey == inst.OccurrenceKey {
				return core.NewConflictError("the occurrence already has an instance", inst.OccurrenceKey)
			}
		}
	}
	for _, inst := range instances {
		if inst.ID == "" {
			inst.ID = newID()
		}
		stored := inst
		repo.db.instances[inst.ID] = &stored
	}
	return nil
}

func (repo *sessionRepository) UpdateInstance(_ context.Context, inst session.Instance, _ ...core.DBExecutor) (session.Instance, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	old, ok := repo.db.instances[inst.ID]
	if !ok || old.OrganizationID != inst.OrganizationID {
		return session.Instance{}, session.ErrInstanceNotFound
	}
	stored := inst
	repo.db.instances[inst.ID] = &stored
	return inst, nil
}

func (repo *sessionRepository) DeleteInstances(_ context.Context, orgID string, ids []string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, id := range ids {
		if inst, ok := repo.db.instances[id]; ok && inst.OrganizationID == orgID {
			delete(repo.db.instances, id)
		}
	}
	return nil
}
