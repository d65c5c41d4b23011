// Package directory answers the workflow engine's questions about people and schedules
// using the user, course and session services.
package directory

import (
	"context"
	"time"

	"github.com/trezcool/campus/core/course"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/user"
)

type Directory struct {
	users    *user.Service
	courses  *course.Service
	sessions *session.Service
}

func New(users *user.Service, courses *course.Service, sessions *session.Service) *Directory {
	return &Directory{users: users, courses: courses, sessions: sessions}
}

func (d *Directory) ListUsers(ctx context.Context, orgID string, ids []string) ([]user.User, error) {
	return d.users.ListByIDs(ctx, orgID, ids)
}

func (d *Directory) AdminIDs(ctx context.Context, orgID string) ([]string, error) {
	return d.users.AdminIDs(ctx, orgID)
}

func (d *Directory) CourseTrainerIDs(ctx context.Context, orgID, courseID string) ([]string, error) {
	return d.courses.TrainerIDs(ctx, orgID, courseID)
}

func (d *Directory) CourseStudentIDs(ctx context.Context, orgID, courseID string) ([]string, error) {
	return d.courses.ActiveStudentIDs(ctx, orgID, courseID)
}

func (d *Directory) InstancesStartingBetween(ctx context.Context, from, to time.Time) ([]session.Instance, error) {
	return d.sessions.InstancesStartingBetween(ctx, from, to)
}

func (d *Directory) InstanceData(ctx context.Context, inst session.Instance) map[string]interface{} {
	return d.sessions.InstanceData(ctx, inst)
}
