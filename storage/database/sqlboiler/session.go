package boiledrepos

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/recurrence"
	"github.com/trezcool/campus/core/session"
)

const (
	sessionColumns = `s.id, s.organization_id, s.course_id, s.title, s.location, s.trainer_id, s.timezone, s.starts_at,
	s.duration_minutes, s.recurrence, s.capacity, s.created_at, s.updated_at`
	instanceColumns = `id, organization_id, session_id, course_id, trainer_id, location, occurrence_key, starts_at, ends_at,
	status, is_exception, note, created_at, updated_at`
)

type sessionRow struct {
	ID              string      `boil:"id"`
	OrganizationID  string      `boil:"organization_id"`
	CourseID        string      `boil:"course_id"`
	Title           string      `boil:"title"`
	Location        string      `boil:"location"`
	TrainerID       null.String `boil:"trainer_id"`
	Timezone        string      `boil:"timezone"`
	StartsAt        string      `boil:"starts_at"`
	DurationMinutes int         `boil:"duration_minutes"`
	Recurrence      null.JSON   `boil:"recurrence"`
	Capacity        int         `boil:"capacity"`
	CreatedAt       time.Time   `boil:"created_at"`
	UpdatedAt       time.Time   `boil:"updated_at"`
}

func (r sessionRow) unboil() (session.Session, error) {
	s := session.Session{
		ID:              r.ID,
		OrganizationID:  r.OrganizationID,
		CourseID:        r.CourseID,
		Title:           r.Title,
		Location:        r.Location,
		TrainerID:       r.TrainerID.String,
		Timezone:        r.Timezone,
		StartsAt:        r.StartsAt,
		DurationMinutes: r.DurationMinutes,
		Capacity:        r.Capacity,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.Recurrence.Valid {
		var rule recurrence.Rule
		if err := r.Recurrence.Unmarshal(&rule); err != nil {
			return session.Session{}, errors.Wrap(err, "decoding recurrence")
		}
		s.Recurrence = &rule
	}
	return s, nil
}

func unboilSessions(rows []sessionRow) ([]session.Session, error) {
	sessions := make([]session.Session, 0, len(rows))
	for _, r := range rows {
		s, err := r.unboil()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

type instanceRow struct {
	ID             string      `boil:"id"`
	OrganizationID string      `boil:"organization_id"`
	SessionID      string      `boil:"session_id"`
	CourseID       string      `boil:"course_id"`
	TrainerID      null.String `boil:"trainer_id"`
	Location       string      `boil:"location"`
	OccurrenceKey  string      `boil:"occurrence_key"`
	StartsAt       time.Time   `boil:"starts_at"`
	EndsAt         time.Time   `boil:"ends_at"`
	Status         string      `boil:"status"`
	IsException    bool        `boil:"is_exception"`
	Note           string      `boil:"note"`
	CreatedAt      time.Time   `boil:"created_at"`
	UpdatedAt      time.Time   `boil:"updated_at"`
}

func (r instanceRow) unboil() session.Instance {
	return session.Instance{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		SessionID:      r.SessionID,
		CourseID:       r.CourseID,
		TrainerID:      r.TrainerID.String,
		Location:       r.Location,
		OccurrenceKey:  r.OccurrenceKey,
		StartsAt:       r.StartsAt.UTC(),
		EndsAt:         r.EndsAt.UTC(),
		Status:         r.Status,
		IsException:    r.IsException,
		Note:           r.Note,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func unboilInstances(rows []instanceRow) []session.Instance {
	instances := make([]session.Instance, 0, len(rows))
	for _, r := range rows {
		instances = append(instances, r.unboil())
	}
	return instances
}

func recurrenceJSON(rule *recurrence.Rule) (null.JSON, error) {
	if rule == nil {
		return null.JSON{}, nil
	}
	b, err := json.Marshal(rule)
	if err != nil {
		return null.JSON{}, errors.Wrap(err, "encoding recurrence")
	}
	return null.JSONFrom(b), nil
}

type sessionRepository struct {
	repository
}

var _ session.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(exec core.DBExecutor) *sessionRepository {
	return &sessionRepository{repository{exec: exec}}
}

func (repo sessionRepository) CreateSession(ctx context.Context, s session.Session, exec ...core.DBExecutor) (session.Session, error) {
	rule, err := recurrenceJSON(s.Recurrence)
	if err != nil {
		return session.Session{}, err
	}
	s.ID = newID()
	_, err = queries.Raw(
		`INSERT INTO sessions (id, organization_id, course_id, title, location, trainer_id, timezone, starts_at,
			duration_minutes, recurrence, capacity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.OrganizationID, s.CourseID, s.Title, s.Location, nullString(s.TrainerID), s.Timezone, s.StartsAt,
		s.DurationMinutes, rule, s.Capacity, s.CreatedAt.UTC(), s.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return session.Session{}, errors.Wrap(err, "inserting session")
	}
	return s, nil
}

func (repo sessionRepository) GetSession(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (session.Session, error) {
	if !isUUID(id) {
		return session.Session{}, session.ErrNotFound
	}
	var row sessionRow
	err := queries.Raw(`SELECT `+sessionColumns+` FROM sessions s WHERE s.organization_id = $1 AND s.id = $2`, orgID, id).
		Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return session.Session{}, trapNoRowsErr(err, session.ErrNotFound, "getting session")
	}
	return row.unboil()
}

func (repo sessionRepository) QuerySessions(ctx context.Context, orgID string, filter session.SessionFilter, exec ...core.DBExecutor) ([]session.Session, error) {
	var where whereClause
	where.add("s.organization_id = ?", orgID)
	if filter.CourseID != "" {
		where.add("s.course_id::text = ?", filter.CourseID)
	}
	if filter.TrainerID != "" {
		where.add("s.trainer_id::text = ?", filter.TrainerID)
	}

	q, args, err := in(`SELECT `+sessionColumns+` FROM sessions s`+where.String()+` ORDER BY s.created_at, s.id`, where.args...)
	if err != nil {
		return nil, err
	}
	var rows []sessionRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	return unboilSessions(rows)
}

func (repo sessionRepository) ListAllSessions(ctx context.Context, exec ...core.DBExecutor) ([]session.Session, error) {
	var rows []sessionRow
	err := queries.Raw(
		`SELECT `+sessionColumns+` FROM sessions s
		JOIN organizations o ON o.id = s.organization_id AND o.is_active
		ORDER BY s.created_at, s.id`,
	).Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, errors.Wrap(err, "listing sessions")
	}
	return unboilSessions(rows)
}

func (repo sessionRepository) UpdateSession(ctx context.Context, s session.Session, exec ...core.DBExecutor) (session.Session, error) {
	rule, err := recurrenceJSON(s.Recurrence)
	if err != nil {
		return session.Session{}, err
	}
	res, err := queries.Raw(
		`UPDATE sessions SET title = $3, location = $4, trainer_id = $5, timezone = $6, starts_at = $7,
			duration_minutes = $8, recurrence = $9, capacity = $10, updated_at = $11
		WHERE organization_id = $1 AND id = $2`,
		s.OrganizationID, s.ID, s.Title, s.Location, nullString(s.TrainerID), s.Timezone, s.StartsAt,
		s.DurationMinutes, rule, s.Capacity, s.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return session.Session{}, errors.Wrap(err, "updating session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (repo sessionRepository) DeleteSession(ctx context.Context, orgID, id string, exec ...core.DBExecutor) error {
	if !isUUID(id) {
		return session.ErrNotFound
	}
	res, err := queries.Raw(`DELETE FROM sessions WHERE organization_id = $1 AND id = $2`, orgID, id).
		ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return errors.Wrap(err, "deleting session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (repo sessionRepository) GetInstance(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (session.Instance, error) {
	if !isUUID(id) {
		return session.Instance{}, session.ErrInstanceNotFound
	}
	var row instanceRow
	err := queries.Raw(`SELECT `+instanceColumns+` FROM session_instances WHERE organization_id = $1 AND id = $2`, orgID, id).
		Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return session.Instance{}, trapNoRowsErr(err, session.ErrInstanceNotFound, "getting instance")
	}
	return row.unboil(), nil
}

func (repo sessionRepository) queryInstances(ctx context.Context, where whereClause, exe core.DBExecutor) ([]session.Instance, error) {
	q, args, err := in(`SELECT `+instanceColumns+` FROM session_instances`+where.String()+` ORDER BY starts_at, id`, where.args...)
	if err != nil {
		return nil, err
	}
	var rows []instanceRow
	if err = queries.Raw(q, args...).Bind(ctx, exe, &rows); err != nil {
		return nil, errors.Wrap(err, "querying instances")
	}
	return unboilInstances(rows), nil
}

func (repo sessionRepository) QueryInstances(ctx context.Context, orgID string, filter session.InstanceFilter, exec ...core.DBExecutor) ([]session.Instance, error) {
	var where whereClause
	where.add("organization_id = ?", orgID)
	if !filter.From.IsZero() {
		where.add("starts_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where.add("starts_at < ?", filter.To.UTC())
	}
	if filter.CourseID != "" {
		where.add("course_id::text = ?", filter.CourseID)
	}
	if filter.SessionID != "" {
		where.add("session_id::text = ?", filter.SessionID)
	}
	if filter.TrainerID != "" {
		where.add("trainer_id::text = ?", filter.TrainerID)
	}
	if filter.Status != "" {
		where.add("status = ?", filter.Status)
	}
	if filter.Visible != nil {
		where.add("(trainer_id::text = ? OR course_id = ANY (?::uuid[]))",
			filter.Visible.TrainerID, pq.Array(validUUIDs(filter.Visible.CourseIDs)))
	}
	return repo.queryInstances(ctx, where, repo.getExec(exec))
}

func (repo sessionRepository) OverlappingInstances(ctx context.Context, orgID string, trainerIDs, locations []string, from, to time.Time, exec ...core.DBExecutor) ([]session.Instance, error) {
	locs := make([]string, 0, len(locations))
	for _, l := range locations {
		if l != "" {
			locs = append(locs, strings.ToLower(l))
		}
	}
	trainerIDs = validUUIDs(trainerIDs)
	if len(trainerIDs) == 0 && len(locs) == 0 {
		return []session.Instance{}, nil
	}

	var where whereClause
	where.add("organization_id = ?", orgID)
	where.add("status = ?", session.StatusScheduled)
	where.add("starts_at < ? AND ends_at > ?", to.UTC(), from.UTC())
	where.add("(trainer_id = ANY (?::uuid[]) OR (location <> '' AND lower(location) = ANY (?)))",
		pq.Array(trainerIDs), pq.Array(locs))
	return repo.queryInstances(ctx, where, repo.getExec(exec))
}

func (repo sessionRepository) StartingBetween(ctx context.Context, from, to time.Time, exec ...core.DBExecutor) ([]session.Instance, error) {
	var rows []instanceRow
	err := queries.Raw(
		`SELECT `+prefixColumns("i", instanceColumns)+` FROM session_instances i
		JOIN organizations o ON o.id = i.organization_id AND o.is_active
		WHERE i.status = $1 AND i.starts_at > $2 AND i.starts_at <= $3
		ORDER BY i.starts_at, i.id`,
		session.StatusScheduled, from.UTC(), to.UTC(),
	).Bind(ctx, repo.getExec(exec), &rows)
	if err != nil {
		return nil, errors.Wrap(err, "listing instances starting between")
	}
	return unboilInstances(rows), nil
}

func (repo sessionRepository) CreateInstances(ctx context.Context, instances []session.Instance, exec ...core.DBExecutor) error {
	const cols = 14
	exe := repo.getExec(exec)
	// keep each statement under postgres' bind parameter limit
	for start := 0; start < len(instances); start += 500 {
		end := start + 500
		if end > len(instances) {
			end = len(instances)
		}
		batch := instances[start:end]

		args := make([]interface{}, 0, cols*len(batch))
		for _, inst := range batch {
			if inst.ID == "" {
				inst.ID = newID()
			}
			args = append(args, inst.ID, inst.OrganizationID, inst.SessionID, inst.CourseID, nullString(inst.TrainerID),
				inst.Location, inst.OccurrenceKey, inst.StartsAt.UTC(), inst.EndsAt.UTC(), inst.Status, inst.IsException,
				inst.Note, inst.CreatedAt.UTC(), inst.UpdatedAt.UTC())
		}
		q := `INSERT INTO session_instances (` + instanceColumns + `) VALUES ` + strmangle.Placeholders(true, len(args), 1, cols)
		if _, err := queries.Raw(q, args...).ExecContext(ctx, exe); err != nil {
			if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
				return core.NewConflictError("the occurrence already has an instance", nil)
			}
			return errors.Wrap(err, "inserting instances")
		}
	}
	return nil
}

func (repo sessionRepository) UpdateInstance(ctx context.Context, inst session.Instance, exec ...core.DBExecutor) (session.Instance, error) {
	res, err := queries.Raw(
		`UPDATE session_instances SET trainer_id = $3, location = $4, starts_at = $5, ends_at = $6, status = $7,
			is_exception = $8, note = $9, updated_at = $10
		WHERE organization_id = $1 AND id = $2`,
		inst.OrganizationID, inst.ID, nullString(inst.TrainerID), inst.Location, inst.StartsAt.UTC(), inst.EndsAt.UTC(),
		inst.Status, inst.IsException, inst.Note, inst.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return session.Instance{}, errors.Wrap(err, "updating instance")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.Instance{}, session.ErrInstanceNotFound
	}
	return inst, nil
}

func (repo sessionRepository) DeleteInstances(ctx context.Context, orgID string, ids []string, exec ...core.DBExecutor) error {
	ids = validUUIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	q, args, err := in(`DELETE FROM session_instances WHERE organization_id = ? AND id IN (?)`, orgID, ids)
	if err != nil {
		return err
	}
	_, err = queries.Raw(q, args...).ExecContext(ctx, repo.getExec(exec))
	return errors.Wrap(err, "deleting instances")
}
