package course

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
)

// Enrollment statuses
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusWithdrawn = "withdrawn"
)

var EnrollmentStatuses = []string{StatusActive, StatusCompleted, StatusWithdrawn}

type Course struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Code           string    `json:"code"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	IsPublished    bool      `json:"is_published"`
	TrainerIDs     []string  `json:"trainer_ids"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

func (c Course) HasTrainer(userID string) bool {
	return core.StringInSlice(userID, c.TrainerIDs)
}

type Enrollment struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	CourseID       string    `json:"course_id"`
	StudentID      string    `json:"student_id"`
	Status         string    `json:"status"`
	EnrolledAt     time.Time `json:"enrolled_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"`  // UTC
}

// NewCourse contains information needed to create a new Course.
type NewCourse struct {
	Code        string   `json:"code" validate:"required,max=32"`
	Title       string   `json:"title" validate:"required,max=200"`
	Description string   `json:"description"`
	IsPublished bool     `json:"is_published"`
	TrainerIDs  []string `json:"trainer_ids" validate:"omitempty,dive,uuid"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Code = core.CleanString(nc.Code)
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	nc.TrainerIDs = core.UniqueStrings(nc.TrainerIDs)
	return validate.Struct(nc)
}

// UpdateCourse defines what information may be provided to modify an existing Course.
type UpdateCourse struct {
	Code        string  `json:"code" validate:"omitempty,max=32"`
	Title       string  `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description"`
	IsPublished *bool   `json:"is_published"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	uc.Code = core.CleanString(uc.Code)
	uc.Title = core.CleanString(uc.Title)
	if uc.Description != nil {
		desc := core.CleanString(*uc.Description)
		uc.Description = &desc
	}
	return validate.Struct(uc)
}

type AssignTrainers struct {
	TrainerIDs []string `json:"trainer_ids" validate:"required,min=1,dive,uuid"`
}

func (at *AssignTrainers) Validate(validate *validator.Validate) error {
	at.TrainerIDs = core.UniqueStrings(at.TrainerIDs)
	return validate.Struct(at)
}

type NewEnrollments struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,dive,uuid"`
}

func (ne *NewEnrollments) Validate(validate *validator.Validate) error {
	ne.StudentIDs = core.UniqueStrings(ne.StudentIDs)
	return validate.Struct(ne)
}

type UpdateEnrollment struct {
	Status string `json:"status" validate:"required,oneof=active completed withdrawn"`
}

func (ue *UpdateEnrollment) Validate(validate *validator.Validate) error {
	ue.Status = core.CleanString(ue.Status, true /* lower */)
	return validate.Struct(ue)
}

type QueryFilter struct {
	Search      string `query:"search"`
	IsPublished *bool  `query:"is_published"`

	// MemberID restricts the result to courses the user trains or is actively enrolled in.
	MemberID string `query:"-"`
	// IDs restricts the result to the given courses.
	IDs []string `query:"-"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

type EnrollmentFilter struct {
	CourseID  string `query:"-"`
	StudentID string `query:"student_id"`
	Status    string `query:"status"`
}
