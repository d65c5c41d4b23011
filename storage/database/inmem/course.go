package inmemdb

import (
	"context"
	"strings"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/course"
)

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) *courseRepository {
	return &courseRepository{db: db}
}

func cloneCourse(c *course.Course) course.Course {
	cc := *c
	cc.TrainerIDs = cloneStrings(c.TrainerIDs)
	if cc.TrainerIDs == nil {
		cc.TrainerIDs = []string{}
	}
	return cc
}

func (repo *courseRepository) CodeExists(_ context.Context, orgID, code, excludeID string, _ ...core.DBExecutor) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, c := range repo.db.courses {
		if c.OrganizationID == orgID && c.ID != excludeID && strings.EqualFold(c.Code, code) {
			return true, nil
		}
	}
	return false, nil
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	c.ID = newID()
	stored := cloneCourse(&c)
	repo.db.courses[c.ID] = &stored
	return cloneCourse(&stored), nil
}

func (repo *courseRepository) GetCourse(_ context.Context, orgID, id string, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	c, ok := repo.db.courses[id]
	if !ok || c.OrganizationID != orgID {
		return course.Course{}, course.ErrNotFound
	}
	return cloneCourse(c), nil
}

func (repo *courseRepository) QueryCourses(_ context.Context, orgID string, filter *course.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]course.Course, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	courses := make([]course.Course, 0)
	for _, c := range repo.db.courses {
		if c.OrganizationID != orgID || (filter != nil && !repo.db.matchCourse(c, filter)) {
			continue
		}
		courses = append(courses, cloneCourse(c))
	}
	orderBy(courses, ordering, core.DBOrdering{Field: "title", Ascending: true}, compareCourses)
	return courses, nil
}

func (db *DB) matchCourse(c *course.Course, filter *course.QueryFilter) bool {
	if filter.Search != "" {
		kw := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(c.Code), kw) && !strings.Contains(strings.ToLower(c.Title), kw) {
			return false
		}
	}
	if filter.IsPublished != nil && c.IsPublished != *filter.IsPublished {
		return false
	}
	if filter.IDs != nil && !core.StringInSlice(c.ID, filter.IDs) {
		return false
	}
	if filter.MemberID != "" && !c.HasTrainer(filter.MemberID) && !db.isActiveStudent(c.ID, filter.MemberID) {
		return false
	}
	return true
}

func (db *DB) isActiveStudent(courseID, studentID string) bool {
	for _, e := range db.enrollments {
		if e.CourseID == courseID && e.StudentID == studentID && e.Status == course.StatusActive {
			return true
		}
	}
	return false
}

func compareCourses(a, b course.Course, field string) int {
	switch field {
	case "code":
		return strings.Compare(a.Code, b.Code)
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "created_at":
		return compareTimes(a.CreatedAt, b.CreatedAt)
	case "updated_at":
		return compareTimes(a.UpdatedAt, b.UpdatedAt)
	}
	return 0
}

func (repo *courseRepository) UpdateCourse(_ context.Context, c course.Course, _ ...core.DBExecutor) (course.Course, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	old, ok := repo.db.courses[c.ID]
	if !ok || old.OrganizationID != c.OrganizationID {
		return course.Course{}, course.ErrNotFound
	}
	c.TrainerIDs = old.TrainerIDs // trainers are only changed by SetCourseTrainers
	stored := cloneCourse(&c)
	repo.db.courses[c.ID] = &stored
	return cloneCourse(&stored), nil
}

func (repo *courseRepository) DeleteCourse(_ context.Context, orgID, id string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	c, ok := repo.db.courses[id]
	if !ok || c.OrganizationID != orgID {
		return course.ErrNotFound
	}
	delete(repo.db.courses, id)

	for eid, e := range repo.db.enrollments {
		if e.CourseID == id {
			delete(repo.db.enrollments, eid)
		}
	}
	for sid, s := range repo.db.sessions {
		if s.CourseID == id {
			repo.db.deleteSession(sid)
		}
	}
	for qid, q := range repo.db.questionnaires {
		if q.CourseID == id {
			repo.db.deleteQuestionnaire(qid)
		}
	}
	for _, conv := range repo.db.conversations {
		if conv.CourseID == id {
			conv.CourseID = ""
		}
	}
	return nil
}

func (repo *courseRepository) SetCourseTrainers(_ context.Context, orgID, courseID string, trainerIDs []string, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	c, ok := repo.db.courses[courseID]
	if !ok || c.OrganizationID != orgID {
		return course.ErrNotFound
	}
	c.TrainerIDs = cloneStrings(trainerIDs)
	return nil
}

func (repo *courseRepository) CreateEnrollment(_ context.Context, e course.Enrollment, _ ...core.DBExecutor) (course.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	for _, ex := range repo.db.enrollments {
		if ex.CourseID == e.CourseID && ex.StudentID == e.StudentID {
			return course.Enrollment{}, core.NewConflictError("the student is already enrolled in this course", nil)
		}
	}
	e.ID = newID()
	stored := e
	repo.db.enrollments[e.ID] = &stored
	return e, nil
}

func (repo *courseRepository) GetEnrollment(_ context.Context, orgID, courseID, studentID string, _ ...core.DBExecutor) (course.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, e := range repo.db.enrollments {
		if e.OrganizationID == orgID && e.CourseID == courseID && e.StudentID == studentID {
			return *e, nil
		}
	}
	return course.Enrollment{}, course.ErrEnrollmentNotFound
}

func (repo *courseRepository) UpdateEnrollment(_ context.Context, e course.Enrollment, _ ...core.DBExecutor) (course.Enrollment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	old, ok := repo.db.enrollments[e.ID]
	if !ok || old.OrganizationID != e.OrganizationID {
		return course.Enrollment{}, course.ErrEnrollmentNotFound
	}
	stored := e
	repo.db.enrollments[e.ID] = &stored
	return e, nil
}

func (repo *courseRepository) QueryEnrollments(_ context.Context, orgID string, filter course.EnrollmentFilter, _ ...core.DBExecutor) ([]course.Enrollment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	enrollments := make([]course.Enrollment, 0)
	for _, e := range repo.db.enrollments {
		switch {
		case e.OrganizationID != orgID:
		case filter.CourseID != "" && e.CourseID != filter.CourseID:
		case filter.StudentID != "" && e.StudentID != filter.StudentID:
		case filter.Status != "" && e.Status != filter.Status:
		default:
			enrollments = append(enrollments, *e)
		}
	}
	orderBy(enrollments, nil, core.DBOrdering{Field: "enrolled_at", Ascending: true}, func(a, b course.Enrollment, _ string) int {
		if c := compareTimes(a.EnrolledAt, b.EnrolledAt); c != 0 {
			return c
		}
		return strings.Compare(a.StudentID, b.StudentID)
	})
	return enrollments, nil
}
