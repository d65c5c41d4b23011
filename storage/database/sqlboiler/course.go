package boiledrepos

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/types"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/course"
)

const courseColumns = `c.id, c.organization_id, c.code, c.title, c.description, c.is_published, c.created_at, c.updated_at,
	ARRAY(SELECT ct.trainer_id::text FROM course_trainers ct WHERE ct.course_id = c.id ORDER BY ct.trainer_id) AS trainer_ids`

const enrollmentColumns = `id, organization_id, course_id, student_id, status, enrolled_at, updated_at`

var courseOrderColumns = map[string]string{
	"code":       "c.code",
	"title":      "c.title",
	"created_at": "c.created_at",
	"updated_at": "c.updated_at",
}

type courseRow struct {
	ID             string            `boil:"id"`
	OrganizationID string            `boil:"organization_id"`
	Code           string            `boil:"code"`
	Title          string            `boil:"title"`
	Description    string            `boil:"description"`
	IsPublished    bool              `boil:"is_published"`
	CreatedAt      time.Time         `boil:"created_at"`
	UpdatedAt      time.Time         `boil:"updated_at"`
	TrainerIDs     types.StringArray `boil:"trainer_ids"`
}

func (r courseRow) unboil() course.Course {
	ids := []string(r.TrainerIDs)
	if ids == nil {
		ids = []string{}
	}
	return course.Course{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Code:           r.Code,
		Title:          r.Title,
		Description:    r.Description,
		IsPublished:    r.IsPublished,
		TrainerIDs:     ids,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type enrollmentRow struct {
	ID             string    `boil:"id"`
	OrganizationID string    `boil:"organization_id"`
	CourseID       string    `boil:"course_id"`
	StudentID      string    `boil:"student_id"`
	Status         string    `boil:"status"`
	EnrolledAt     time.Time `boil:"enrolled_at"`
	UpdatedAt      time.Time `boil:"updated_at"`
}

func (r enrollmentRow) unboil() course.Enrollment {
	return course.Enrollment{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		CourseID:       r.CourseID,
		StudentID:      r.StudentID,
		Status:         r.Status,
		EnrolledAt:     r.EnrolledAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type courseRepository struct {
	repository
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(exec core.DBExecutor) *courseRepository {
	return &courseRepository{repository{exec: exec}}
}

func (repo courseRepository) CodeExists(ctx context.Context, orgID, code, excludeID string, exec ...core.DBExecutor) (bool, error) {
	var exists bool
	err := queries.Raw(
		`SELECT EXISTS (SELECT 1 FROM courses WHERE organization_id = $1 AND lower(code) = lower($2) AND id::text <> $3)`,
		orgID, code, excludeID,
	).QueryRowContext(ctx, repo.getExec(exec)).Scan(&exists)
	return exists, errors.Wrap(err, "checking course code")
}

func (repo courseRepository) CreateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	c.ID = newID()
	exe := repo.getExec(exec)
	_, err := queries.Raw(
		`INSERT INTO courses (id, organization_id, code, title, description, is_published, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.OrganizationID, c.Code, c.Title, c.Description, c.IsPublished, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	).ExecContext(ctx, exe)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "inserting course")
	}
	if err = repo.insertTrainers(ctx, c.ID, c.TrainerIDs, exe); err != nil {
		return course.Course{}, err
	}
	return repo.GetCourse(ctx, c.OrganizationID, c.ID, exe)
}

func (repo courseRepository) insertTrainers(ctx context.Context, courseID string, trainerIDs []string, exe core.DBExecutor) error {
	if len(trainerIDs) == 0 {
		return nil
	}
	args := make([]interface{}, 0, 2*len(trainerIDs))
	for _, id := range trainerIDs {
		args = append(args, courseID, id)
	}
	q := `INSERT INTO course_trainers (course_id, trainer_id) VALUES ` +
		strmangle.Placeholders(true, len(args), 1, 2) + ` ON CONFLICT DO NOTHING`
	_, err := queries.Raw(q, args...).ExecContext(ctx, exe)
	return errors.Wrap(err, "inserting course trainers")
}

func (repo courseRepository) GetCourse(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (course.Course, error) {
	if !isUUID(id) {
		return course.Course{}, course.ErrNotFound
	}
	var row courseRow
	err := queries.Raw(`SELECT `+courseColumns+` FROM courses c WHERE c.organization_id = $1 AND c.id = $2`, orgID, id).
		Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return course.Course{}, trapNoRowsErr(err, course.ErrNotFound, "getting course")
	}
	return row.unboil(), nil
}

func (repo courseRepository) QueryCourses(ctx context.Context, orgID string, filter *course.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]course.Course, error) {
	var where whereClause
	where.add("c.organization_id = ?", orgID)
	if filter != nil {
		if filter.Search != "" {
			val := likePattern(filter.Search)
			where.add("(c.code ILIKE ? OR c.title ILIKE ?)", val, val)
		}
		if filter.IsPublished != nil {
			where.add("c.is_published = ?", *filter.IsPublished)
		}
		if filter.IDs != nil {
			where.add("c.id = ANY (?::uuid[])", pq.Array(validUUIDs(filter.IDs)))
		}
		if filter.MemberID != "" {
			where.add(`(EXISTS (SELECT 1 FROM course_trainers ct WHERE ct.course_id = c.id AND ct.trainer_id::text = ?)
				OR EXISTS (SELECT 1 FROM enrollments e WHERE e.course_id = c.id AND e.student_id::text = ? AND e.status = ?))`,
				filter.MemberID, filter.MemberID, course.StatusActive)
		}
	}

	q, args, err := in(`SELECT `+courseColumns+` FROM courses c`+where.String()+orderBy(ordering, courseOrderColumns, "c.title ASC"), where.args...)
	if err != nil {
		return nil, err
	}
	var rows []courseRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, 0, len(rows))
	for _, r := range rows {
		courses = append(courses, r.unboil())
	}
	return courses, nil
}

func (repo courseRepository) UpdateCourse(ctx context.Context, c course.Course, exec ...core.DBExecutor) (course.Course, error) {
	exe := repo.getExec(exec)
	res, err := queries.Raw(
		`UPDATE courses SET code = $3, title = $4, description = $5, is_published = $6, updated_at = $7
		WHERE organization_id = $1 AND id = $2`,
		c.OrganizationID, c.ID, c.Code, c.Title, c.Description, c.IsPublished, c.UpdatedAt.UTC(),
	).ExecContext(ctx, exe)
	if err != nil {
		return course.Course{}, errors.Wrap(err, "updating course")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Course{}, course.ErrNotFound
	}
	return repo.GetCourse(ctx, c.OrganizationID, c.ID, exe)
}

func (repo courseRepository) DeleteCourse(ctx context.Context, orgID, id string, exec ...core.DBExecutor) error {
	if !isUUID(id) {
		return course.ErrNotFound
	}
	// trainers, enrollments, sessions, instances and questionnaires cascade
	res, err := queries.Raw(`DELETE FROM courses WHERE organization_id = $1 AND id = $2`, orgID, id).
		ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return errors.Wrap(err, "deleting course")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.ErrNotFound
	}
	return nil
}

func (repo courseRepository) SetCourseTrainers(ctx context.Context, orgID, courseID string, trainerIDs []string, exec ...core.DBExecutor) error {
	exe := repo.getExec(exec)
	if _, err := repo.GetCourse(ctx, orgID, courseID, exe); err != nil {
		return err
	}
	_, err := queries.Raw(
		`DELETE FROM course_trainers WHERE course_id = $1 AND NOT (trainer_id = ANY ($2::uuid[]))`,
		courseID, pq.Array(validUUIDs(trainerIDs)),
	).ExecContext(ctx, exe)
	if err != nil {
		return errors.Wrap(err, "removing course trainers")
	}
	return repo.insertTrainers(ctx, courseID, trainerIDs, exe)
}

func (repo courseRepository) CreateEnrollment(ctx context.Context, e course.Enrollment, exec ...core.DBExecutor) (course.Enrollment, error) {
	e.ID = newID()
	res, err := queries.Raw(
		`INSERT INTO enrollments (`+enrollmentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (course_id, student_id) DO NOTHING`,
		e.ID, e.OrganizationID, e.CourseID, e.StudentID, e.Status, e.EnrolledAt.UTC(), e.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return course.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Enrollment{}, core.NewConflictError("the student is already enrolled in this course", nil)
	}
	return e, nil
}

func (repo courseRepository) GetEnrollment(ctx context.Context, orgID, courseID, studentID string, exec ...core.DBExecutor) (course.Enrollment, error) {
	if !isUUID(courseID) || !isUUID(studentID) {
		return course.Enrollment{}, course.ErrEnrollmentNotFound
	}
	var row enrollmentRow
	err := queries.Raw(
		`SELECT `+enrollmentColumns+` FROM enrollments WHERE organization_id = $1 AND course_id = $2 AND student_id = $3`,
		orgID, courseID, studentID,
	).Bind(ctx, repo.getExec(exec), &row)
	if err != nil {
		return course.Enrollment{}, trapNoRowsErr(err, course.ErrEnrollmentNotFound, "getting enrollment")
	}
	return row.unboil(), nil
}

func (repo courseRepository) UpdateEnrollment(ctx context.Context, e course.Enrollment, exec ...core.DBExecutor) (course.Enrollment, error) {
	res, err := queries.Raw(
		`UPDATE enrollments SET status = $3, updated_at = $4 WHERE organization_id = $1 AND id = $2`,
		e.OrganizationID, e.ID, e.Status, e.UpdatedAt.UTC(),
	).ExecContext(ctx, repo.getExec(exec))
	if err != nil {
		return course.Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return course.Enrollment{}, course.ErrEnrollmentNotFound
	}
	return e, nil
}

func (repo courseRepository) QueryEnrollments(ctx context.Context, orgID string, filter course.EnrollmentFilter, exec ...core.DBExecutor) ([]course.Enrollment, error) {
	var where whereClause
	where.add("organization_id = ?", orgID)
	if filter.CourseID != "" {
		where.add("course_id::text = ?", filter.CourseID)
	}
	if filter.StudentID != "" {
		where.add("student_id::text = ?", filter.StudentID)
	}
	if filter.Status != "" {
		where.add("status = ?", filter.Status)
	}

	q, args, err := in(`SELECT `+enrollmentColumns+` FROM enrollments`+where.String()+` ORDER BY enrolled_at, student_id`, where.args...)
	if err != nil {
		return nil, err
	}
	var rows []enrollmentRow
	if err = queries.Raw(q, args...).Bind(ctx, repo.getExec(exec), &rows); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrollments := make([]course.Enrollment, 0, len(rows))
	for _, r := range rows {
		enrollments = append(enrollments, r.unboil())
	}
	return enrollments, nil
}
