package session

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/recurrence"
)

// Instance statuses
const (
	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
)

// Session is a (possibly recurring) series of course meetings.
type Session struct {
	ID              string           `json:"id"`
	OrganizationID  string           `json:"organization_id"`
	CourseID        string           `json:"course_id"`
	Title           string           `json:"title"`
	Location        string           `json:"location"`
	TrainerID       string           `json:"trainer_id,omitempty"`
	Timezone        string           `json:"timezone"`
	StartsAt        string           `json:"starts_at"` // local wall clock, recurrence.LocalLayout
	DurationMinutes int              `json:"duration_minutes"`
	Recurrence      *recurrence.Rule `json:"recurrence,omitempty"`
	Capacity        int              `json:"capacity"`
	CreatedAt       time.Time        `json:"created_at"` // UTC
	UpdatedAt       time.Time        `json:"updated_at"` // UTC
}

func (s Session) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Zone returns the session's time zone.
func (s Session) Zone() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	return loc, errors.Wrap(err, "loading session time zone")
}

// Expand returns the session's occurrences starting in [from, to).
func (s Session) Expand(from, to time.Time) ([]recurrence.Occurrence, error) {
	loc, err := s.Zone()
	if err != nil {
		return nil, err
	}
	dtstart, err := recurrence.ParseLocal(s.StartsAt)
	if err != nil {
		return nil, err
	}
	return recurrence.Expand(s.Recurrence, dtstart, loc, s.Duration(), from, to)
}

// Instance is one concrete meeting of a Session.
type Instance struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	SessionID      string    `json:"session_id"`
	CourseID       string    `json:"course_id"`
	TrainerID      string    `json:"trainer_id,omitempty"`
	Location       string    `json:"location"`
	OccurrenceKey  string    `json:"occurrence_key"`
	StartsAt       time.Time `json:"starts_at"` // UTC
	EndsAt         time.Time `json:"ends_at"`   // UTC
	Status         string    `json:"status"`
	IsException    bool      `json:"is_exception"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

func (inst Instance) IsScheduled() bool { return inst.Status == StatusScheduled }

// NewSession contains information needed to create a new Session.
type NewSession struct {
	CourseID        string           `json:"course_id" validate:"required,uuid"`
	Title           string           `json:"title" validate:"required,max=200"`
	Location        string           `json:"location" validate:"max=200"`
	TrainerID       string           `json:"trainer_id" validate:"omitempty,uuid"`
	Timezone        string           `json:"timezone" validate:"omitempty,tzname"`
	StartsAt        string           `json:"starts_at" validate:"required,datetime=2006-01-02T15:04"`
	DurationMinutes int              `json:"duration_minutes" validate:"required,min=1,max=1440"`
	Recurrence      *recurrence.Rule `json:"recurrence"`
	Capacity        int              `json:"capacity" validate:"min=0"`
	AllowConflicts  bool             `json:"allow_conflicts"`
}

func (ns *NewSession) Validate(validate *validator.Validate) error {
	ns.Title = core.CleanString(ns.Title)
	ns.Location = core.CleanString(ns.Location)
	ns.Timezone = core.CleanString(ns.Timezone)
	ns.StartsAt = core.CleanString(ns.StartsAt)

	if err := validate.Struct(ns); err != nil {
		return err
	}
	if ns.Recurrence != nil {
		return ns.Recurrence.Validate(validate, "recurrence.")
	}
	return nil
}

// UpdateSession defines what information may be provided to modify an existing Session.
// Recurrence replaces the current rule; RemoveRecurrence turns the session into a one-off.
type UpdateSession struct {
	Title            string           `json:"title" validate:"omitempty,max=200"`
	Location         *string          `json:"location" validate:"omitempty,max=200"`
	TrainerID        *string          `json:"trainer_id"` // "" unassigns the trainer
	Timezone         string           `json:"timezone" validate:"omitempty,tzname"`
	StartsAt         string           `json:"starts_at" validate:"omitempty,datetime=2006-01-02T15:04"`
	DurationMinutes  int              `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	Recurrence       *recurrence.Rule `json:"recurrence"`
	RemoveRecurrence bool             `json:"remove_recurrence"`
	Capacity         *int             `json:"capacity" validate:"omitempty,min=0"`
	AllowConflicts   bool             `json:"allow_conflicts"`
}

func (us *UpdateSession) Validate(validate *validator.Validate) error {
	us.Title = core.CleanString(us.Title)
	us.Timezone = core.CleanString(us.Timezone)
	us.StartsAt = core.CleanString(us.StartsAt)
	if us.Location != nil {
		loc := core.CleanString(*us.Location)
		us.Location = &loc
	}

	if err := validate.Struct(us); err != nil {
		return err
	}
	if us.TrainerID != nil && *us.TrainerID != "" {
		if _, err := uuid.Parse(*us.TrainerID); err != nil {
			return core.NewFieldError("trainer_id", "must be a valid UUID")
		}
	}
	if us.Recurrence != nil {
		if us.RemoveRecurrence {
			return core.NewFieldError("remove_recurrence", "cannot be combined with recurrence")
		}
		return us.Recurrence.Validate(validate, "recurrence.")
	}
	return nil
}

// RescheduleInstance moves a single instance. The instance keeps its duration unless DurationMinutes is set.
type RescheduleInstance struct {
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	Location        *string   `json:"location" validate:"omitempty,max=200"`
	Note            string    `json:"note" validate:"max=500"`
	AllowConflicts  bool      `json:"allow_conflicts"`
}

func (ri *RescheduleInstance) Validate(validate *validator.Validate) error {
	ri.Note = core.CleanString(ri.Note)
	if ri.Location != nil {
		loc := core.CleanString(*ri.Location)
		ri.Location = &loc
	}
	return validate.Struct(ri)
}

type CancelInstance struct {
	Note string `json:"note" validate:"max=500"`
}

func (ci *CancelInstance) Validate(validate *validator.Validate) error {
	ci.Note = core.CleanString(ci.Note)
	return validate.Struct(ci)
}

type SessionFilter struct {
	CourseID  string `query:"course_id"`
	TrainerID string `query:"trainer_id"`
}

// InstanceFilter applies AND operation on its set fields.
// From and To bound StartsAt as [From, To).
type InstanceFilter struct {
	From      time.Time `query:"from"`
	To        time.Time `query:"to"`
	CourseID  string    `query:"course_id"`
	SessionID string    `query:"session_id"`
	TrainerID string    `query:"trainer_id"`
	Status    string    `query:"status"`

	// Visible, when set, restricts the result to instances given by Visible.TrainerID
	// or belonging to one of Visible.CourseIDs.
	Visible *Visibility `query:"-"`
}

type Visibility struct {
	TrainerID string
	CourseIDs []string
}

// Conflict describes a clash between a candidate instance and another scheduled one.
type Conflict struct {
	Resource string       `json:"resource"` // "trainer:<id>" or "location:<name>"
	Instance ConflictSlot `json:"instance"`
	With     ConflictSlot `json:"with"`
}

type ConflictSlot struct {
	InstanceID    string    `json:"instance_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	OccurrenceKey string    `json:"occurrence_key,omitempty"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
}

// GenerateResult counts the instance changes made by a generation.
type GenerateResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}
