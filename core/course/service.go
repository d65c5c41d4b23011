package course

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

var (
	ErrNotFound           = core.NewNotFoundError("course")
	ErrEnrollmentNotFound = core.NewNotFoundError("enrollment")
	ErrCodeExists         = errors.New("a course with this code already exists")
)

type (
	Repository interface {
		CodeExists(ctx context.Context, orgID, code, excludeID string, exec ...core.DBExecutor) (bool, error)
		CreateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		GetCourse(ctx context.Context, orgID, id string, exec ...core.DBExecutor) (Course, error)
		QueryCourses(ctx context.Context, orgID string, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Course, error)
		UpdateCourse(ctx context.Context, c Course, exec ...core.DBExecutor) (Course, error)
		// DeleteCourse also deletes the course's trainers, enrollments, sessions and instances.
		DeleteCourse(ctx context.Context, orgID, id string, exec ...core.DBExecutor) error
		SetCourseTrainers(ctx context.Context, orgID, courseID string, trainerIDs []string, exec ...core.DBExecutor) error

		CreateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		GetEnrollment(ctx context.Context, orgID, courseID, studentID string, exec ...core.DBExecutor) (Enrollment, error)
		UpdateEnrollment(ctx context.Context, e Enrollment, exec ...core.DBExecutor) (Enrollment, error)
		QueryEnrollments(ctx context.Context, orgID string, filter EnrollmentFilter, exec ...core.DBExecutor) ([]Enrollment, error)
	}

	// Users looks up the users of an organization.
	Users interface {
		ListByIDs(ctx context.Context, orgID string, ids []string) ([]user.User, error)
	}

	Service struct {
		repo   Repository
		tx     core.Transactor
		users  Users
		events core.EventPublisher
		logger core.Logger
	}
)

func NewService(tx core.Transactor, repo Repository, users Users, logger core.Logger) *Service {
	return &Service{repo: repo, tx: tx, users: users, logger: logger}
}

// SetPublisher sets where domain events are published.
func (svc *Service) SetPublisher(pub core.EventPublisher) { svc.events = pub }

func (svc *Service) checkCode(ctx context.Context, orgID, code, excludeID string) error {
	exists, err := svc.repo.CodeExists(ctx, orgID, code, excludeID)
	if err != nil {
		return errors.Wrap(err, "checking code uniqueness")
	}
	if exists {
		return core.NewValidationError(ErrCodeExists, core.FieldError{Field: "code", Error: ErrCodeExists.Error()})
	}
	return nil
}

// checkMembers verifies that every id is an active user of orgID having a role starting with rolePrefix.
func (svc *Service) checkMembers(ctx context.Context, orgID string, ids []string, rolePrefix, field string) error {
	users, err := svc.users.ListByIDs(ctx, orgID, ids)
	if err != nil {
		return errors.Wrap(err, "listing users")
	}
	found := make(map[string]user.User, len(users))
	for _, u := range users {
		found[u.ID] = u
	}
	for _, id := range ids {
		u, ok := found[id]
		if !ok || !u.IsActive || !u.RoleStartsWith(rolePrefix) {
			msg := fmt.Sprintf("%s is not an active %s of this organization", id, rolePrefix[:len(rolePrefix)-1])
			return core.NewValidationError(errors.New(msg), core.FieldError{Field: field, Error: msg})
		}
	}
	return nil
}

// Create creates a validated NewCourse in the actor's organization.
func (svc *Service) Create(ctx context.Context, actor user.User, nc NewCourse) (Course, error) {
	if err := svc.checkCode(ctx, actor.OrganizationID, nc.Code, ""); err != nil {
		return Course{}, err
	}
	if len(nc.TrainerIDs) > 0 {
		if err := svc.checkMembers(ctx, actor.OrganizationID, nc.TrainerIDs, user.RoleTrainer, "trainer_ids"); err != nil {
			return Course{}, err
		}
	}

	now := time.Now().UTC()
	c, err := svc.repo.CreateCourse(ctx, Course{
		OrganizationID: actor.OrganizationID,
		Code:           nc.Code,
		Title:          nc.Title,
		Description:    nc.Description,
		IsPublished:    nc.IsPublished,
		TrainerIDs:     nc.TrainerIDs,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	return c, errors.Wrap(err, "creating course")
}

// List returns the courses visible to actor: all of them for admins,
// the ones they train or are actively enrolled in for everybody else.
func (svc *Service) List(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering) ([]Course, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	if !actor.IsAdmin() {
		filter.MemberID = actor.ID
	}
	return svc.repo.QueryCourses(ctx, actor.OrganizationID, filter, ordering)
}

// Get returns the course if it is visible to actor, ErrNotFound otherwise.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, actor.OrganizationID, id)
	if err != nil {
		return Course{}, err
	}
	ok, err := svc.CanView(ctx, actor, c)
	if err != nil {
		return Course{}, err
	}
	if !ok {
		return Course{}, ErrNotFound
	}
	return c, nil
}

// GetInOrg returns the course without any visibility check.
func (svc *Service) GetInOrg(ctx context.Context, orgID, id string) (Course, error) {
	return svc.repo.GetCourse(ctx, orgID, id)
}

// CanView tells whether actor may see c: admins, the course's trainers and its active students.
func (svc *Service) CanView(ctx context.Context, actor user.User, c Course) (bool, error) {
	if actor.OrganizationID != c.OrganizationID {
		return false, nil
	}
	if actor.IsAdmin() || c.HasTrainer(actor.ID) {
		return true, nil
	}
	return svc.IsEnrolled(ctx, c.OrganizationID, c.ID, actor.ID)
}

// CanManage tells whether actor may manage c's content: admins and the course's trainers.
func (svc *Service) CanManage(actor user.User, c Course) bool {
	return actor.OrganizationID == c.OrganizationID && (actor.IsAdmin() || c.HasTrainer(actor.ID))
}

// Update applies a validated UpdateCourse.
func (svc *Service) Update(ctx context.Context, orgID, id string, uc UpdateCourse) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, orgID, id)
	if err != nil {
		return Course{}, err
	}
	if uc.Code != "" && uc.Code != c.Code {
		if err = svc.checkCode(ctx, orgID, uc.Code, c.ID); err != nil {
			return Course{}, err
		}
		c.Code = uc.Code
	}
	if uc.Title != "" {
		c.Title = uc.Title
	}
	if uc.Description != nil {
		c.Description = *uc.Description
	}
	if uc.IsPublished != nil {
		c.IsPublished = *uc.IsPublished
	}
	c.UpdatedAt = time.Now().UTC()
	c, err = svc.repo.UpdateCourse(ctx, c)
	return c, errors.Wrap(err, "updating course")
}

func (svc *Service) Delete(ctx context.Context, orgID, id string) error {
	if _, err := svc.repo.GetCourse(ctx, orgID, id); err != nil {
		return err
	}
	return errors.Wrap(svc.repo.DeleteCourse(ctx, orgID, id), "deleting course")
}

// AssignTrainers adds validated trainers to the course.
func (svc *Service) AssignTrainers(ctx context.Context, orgID, courseID string, at AssignTrainers) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, orgID, courseID)
	if err != nil {
		return Course{}, err
	}
	if err = svc.checkMembers(ctx, orgID, at.TrainerIDs, user.RoleTrainer, "trainer_ids"); err != nil {
		return Course{}, err
	}
	ids := core.UniqueStrings(append(c.TrainerIDs, at.TrainerIDs...))
	if err = svc.repo.SetCourseTrainers(ctx, orgID, courseID, ids); err != nil {
		return Course{}, errors.Wrap(err, "setting course trainers")
	}
	return svc.repo.GetCourse(ctx, orgID, courseID)
}

func (svc *Service) UnassignTrainer(ctx context.Context, orgID, courseID, trainerID string) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, orgID, courseID)
	if err != nil {
		return Course{}, err
	}
	if !c.HasTrainer(trainerID) {
		return Course{}, core.NewNotFoundError("trainer")
	}
	ids := make([]string, 0, len(c.TrainerIDs))
	for _, id := range c.TrainerIDs {
		if id != trainerID {
			ids = append(ids, id)
		}
	}
	if err = svc.repo.SetCourseTrainers(ctx, orgID, courseID, ids); err != nil {
		return Course{}, errors.Wrap(err, "setting course trainers")
	}
	return svc.repo.GetCourse(ctx, orgID, courseID)
}

// Enroll enrolls validated students in the course. Already active enrollments are returned as is;
// completed or withdrawn ones are re-activated. Admins and the course's trainers only.
func (svc *Service) Enroll(ctx context.Context, actor user.User, courseID string, ne NewEnrollments) ([]Enrollment, error) {
	orgID := actor.OrganizationID
	c, err := svc.repo.GetCourse(ctx, orgID, courseID)
	if err != nil {
		return nil, err
	}
	if !svc.CanManage(actor, c) {
		return nil, core.ErrPermissionDenied
	}
	if err = svc.checkMembers(ctx, orgID, ne.StudentIDs, user.RoleStudent, "student_ids"); err != nil {
		return nil, err
	}

	var (
		enrollments = make([]Enrollment, 0, len(ne.StudentIDs))
		events      []core.Event
	)
	err = svc.tx.InTx(ctx, func(exec core.DBExecutor) error {
		now := time.Now().UTC()
		for _, studentID := range ne.StudentIDs {
			e, err := svc.repo.GetEnrollment(ctx, orgID, courseID, studentID, core.Execs(exec)...)
			switch {
			case err == nil && e.Status == StatusActive:
				enrollments = append(enrollments, e)
				continue
			case err == nil:
				from := e.Status
				e.Status = StatusActive
				e.UpdatedAt = now
				if e, err = svc.repo.UpdateEnrollment(ctx, e, core.Execs(exec)...); err != nil {
					return errors.Wrap(err, "updating enrollment")
				}
				events = append(events, svc.statusChangedEvent(actor, c, e, from))
			case errors.Cause(err) == ErrEnrollmentNotFound:
				e, err = svc.repo.CreateEnrollment(ctx, Enrollment{
					OrganizationID: orgID,
					CourseID:       courseID,
					StudentID:      studentID,
					Status:         StatusActive,
					EnrolledAt:     now,
					UpdatedAt:      now,
				}, core.Execs(exec)...)
				if err != nil {
					return errors.Wrap(err, "creating enrollment")
				}
				events = append(events, core.Event{
					Key:            core.EventEnrollmentCreated + ":" + e.ID,
					OrganizationID: orgID,
					Type:           core.EventEnrollmentCreated,
					ActorID:        actor.ID,
					CourseID:       c.ID,
					RecipientIDs:   []string{studentID},
					Data:           enrollmentData(c, e),
				})
			default:
				return errors.Wrap(err, "getting enrollment")
			}
			enrollments = append(enrollments, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, evt := range events {
		core.PublishEvent(ctx, svc.events, svc.logger, evt)
	}
	return enrollments, nil
}

// UpdateEnrollmentStatus changes the status of a student's enrollment. Admins and the course's trainers only.
func (svc *Service) UpdateEnrollmentStatus(ctx context.Context, actor user.User, courseID, studentID string, ue UpdateEnrollment) (Enrollment, error) {
	c, err := svc.repo.GetCourse(ctx, actor.OrganizationID, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	if !svc.CanManage(actor, c) {
		return Enrollment{}, core.ErrPermissionDenied
	}
	e, err := svc.repo.GetEnrollment(ctx, actor.OrganizationID, courseID, studentID)
	if err != nil {
		return Enrollment{}, err
	}
	if e.Status == ue.Status {
		return e, nil
	}

	from := e.Status
	e.Status = ue.Status
	e.UpdatedAt = time.Now().UTC()
	if e, err = svc.repo.UpdateEnrollment(ctx, e); err != nil {
		return Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	core.PublishEvent(ctx, svc.events, svc.logger, svc.statusChangedEvent(actor, c, e, from))
	return e, nil
}

func (svc *Service) statusChangedEvent(actor user.User, c Course, e Enrollment, from string) core.Event {
	data := enrollmentData(c, e)
	data["from"] = from
	data["to"] = e.Status
	return core.Event{
		Key:            fmt.Sprintf("%s:%s:%d", core.EventEnrollmentStatusChanged, e.ID, e.UpdatedAt.UnixNano()),
		OrganizationID: e.OrganizationID,
		Type:           core.EventEnrollmentStatusChanged,
		ActorID:        actor.ID,
		CourseID:       c.ID,
		RecipientIDs:   []string{e.StudentID},
		Data:           data,
	}
}

func enrollmentData(c Course, e Enrollment) map[string]interface{} {
	return map[string]interface{}{
		"course": map[string]interface{}{
			"id":    c.ID,
			"code":  c.Code,
			"title": c.Title,
		},
		"enrollment_id": e.ID,
		"student_id":    e.StudentID,
		"status":        e.Status,
	}
}

// ListEnrollments lists a course's enrollments. Admins and the course's trainers only.
func (svc *Service) ListEnrollments(ctx context.Context, actor user.User, courseID string, filter EnrollmentFilter) ([]Enrollment, error) {
	c, err := svc.repo.GetCourse(ctx, actor.OrganizationID, courseID)
	if err != nil {
		return nil, err
	}
	if !svc.CanManage(actor, c) {
		return nil, core.ErrPermissionDenied
	}
	filter.CourseID = courseID
	return svc.repo.QueryEnrollments(ctx, actor.OrganizationID, filter)
}

func (svc *Service) IsEnrolled(ctx context.Context, orgID, courseID, studentID string) (bool, error) {
	e, err := svc.repo.GetEnrollment(ctx, orgID, courseID, studentID)
	if err != nil {
		if errors.Cause(err) == ErrEnrollmentNotFound {
			return false, nil
		}
		return false, errors.Wrap(err, "getting enrollment")
	}
	return e.Status == StatusActive, nil
}

// TrainerIDs returns the trainers of a course.
func (svc *Service) TrainerIDs(ctx context.Context, orgID, courseID string) ([]string, error) {
	c, err := svc.repo.GetCourse(ctx, orgID, courseID)
	if err != nil {
		return nil, err
	}
	return c.TrainerIDs, nil
}

// ActiveStudentIDs returns the actively enrolled students of a course.
func (svc *Service) ActiveStudentIDs(ctx context.Context, orgID, courseID string) ([]string, error) {
	enrollments, err := svc.repo.QueryEnrollments(ctx, orgID, EnrollmentFilter{CourseID: courseID, Status: StatusActive})
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	ids := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		ids = append(ids, e.StudentID)
	}
	return ids, nil
}

// EnrolledCourseIDs returns the courses a student is actively enrolled in.
func (svc *Service) EnrolledCourseIDs(ctx context.Context, orgID, studentID string) ([]string, error) {
	enrollments, err := svc.repo.QueryEnrollments(ctx, orgID, EnrollmentFilter{StudentID: studentID, Status: StatusActive})
	if err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	ids := make([]string, 0, len(enrollments))
	for _, e := range enrollments {
		ids = append(ids, e.CourseID)
	}
	return ids, nil
}

// TrainedCourseIDs returns the courses a trainer is assigned to.
func (svc *Service) TrainedCourseIDs(ctx context.Context, orgID, trainerID string) ([]string, error) {
	courses, err := svc.repo.QueryCourses(ctx, orgID, &QueryFilter{}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	var ids []string
	for _, c := range courses {
		if c.HasTrainer(trainerID) {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}
