package workflow

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

// Channels
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelInApp    = "in_app"
)

// Recipients
const (
	RecipientActor        = "actor"
	RecipientTrainers     = "trainers"
	RecipientStudents     = "students"
	RecipientAdmins       = "admins"
	RecipientParticipants = "participants"
	RecipientUserPrefix   = "user:"
)

// Condition operators
const (
	OpEq     = "eq"
	OpNeq    = "neq"
	OpIn     = "in"
	OpExists = "exists"
)

// Delivery statuses
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusDead    = "dead"
)

var (
	Channels           = []string{ChannelEmail, ChannelTelegram, ChannelInApp}
	DeliveryStatuses   = []string{StatusPending, StatusSent, StatusFailed, StatusDead}
	groupRecipients    = []string{RecipientActor, RecipientTrainers, RecipientStudents, RecipientAdmins, RecipientParticipants}
	timeBasedEventType = core.EventInstanceStarts
)

// Workflow sends messages through channels when an event of its trigger type happens
// and its conditions hold.
type Workflow struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organization_id"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	IsActive       bool        `json:"is_active"`
	Trigger        Trigger     `json:"trigger"`
	Conditions     []Condition `json:"conditions"`
	Actions        []Action    `json:"actions"`
	LastScannedAt  *time.Time  `json:"last_scanned_at,omitempty"` // UTC; time-based workflows only
	CreatedAt      time.Time   `json:"created_at"`                // UTC
	UpdatedAt      time.Time   `json:"updated_at"`                // UTC
}

// IsTimeBased tells whether the workflow fires relative to session instance starts.
func (wf Workflow) IsTimeBased() bool {
	return wf.Trigger.Event == timeBasedEventType
}

type Trigger struct {
	Event string `json:"event" yaml:"event" validate:"required,eventtype"`
	// Offset shifts time-based triggers relative to the instance start (eg: -24h fires a day before).
	Offset core.Duration `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// Condition tests a value of the event. Field is a dot path into the event data,
// or into the event itself when prefixed with "event." (eg: "event.course_id").
type Condition struct {
	Field string      `json:"field" yaml:"field" validate:"required,max=200"`
	Op    string      `json:"op" yaml:"op" validate:"required,oneof=eq neq in exists"`
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// Action renders Subject and Body (text/template) for each recipient and queues a delivery on Channel.
type Action struct {
	Channel    string   `json:"channel" yaml:"channel" validate:"required,channel"`
	Recipients []string `json:"recipients" yaml:"recipients" validate:"required,min=1,max=20,dive,recipient"`
	Subject    string   `json:"subject" yaml:"subject" validate:"max=500"`
	Body       string   `json:"body" yaml:"body" validate:"required,max=10000"`
}

type Delivery struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	WorkflowID     string     `json:"workflow_id"`
	IdempotencyKey string     `json:"idempotency_key"`
	EventType      string     `json:"event_type"`
	EventKey       string     `json:"event_key"`
	Channel        string     `json:"channel"`
	RecipientID    string     `json:"recipient_id"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"` // UTC
	LockedUntil    *time.Time `json:"-"`               // UTC
	LastError      string     `json:"last_error,omitempty"`
	SentAt         *time.Time `json:"sent_at"`    // UTC
	CreatedAt      time.Time  `json:"created_at"` // UTC
	UpdatedAt      time.Time  `json:"updated_at"` // UTC
}

// NewWorkflow contains the information defining a workflow. It is used to create workflows,
// to replace them and to import them from YAML or JSON.
type NewWorkflow struct {
	Name        string      `json:"name" yaml:"name" validate:"required,max=120"`
	Description string      `json:"description" yaml:"description" validate:"max=2000"`
	IsActive    *bool       `json:"is_active" yaml:"is_active"`
	Trigger     Trigger     `json:"trigger" yaml:"trigger"`
	Conditions  []Condition `json:"conditions" yaml:"conditions" validate:"max=20,dive"`
	Actions     []Action    `json:"actions" yaml:"actions" validate:"required,min=1,max=20,dive"`
}

func (nw *NewWorkflow) Validate(validate *validator.Validate) error {
	nw.Name = core.CleanString(nw.Name)
	nw.Description = core.CleanString(nw.Description)
	nw.Trigger.Event = core.CleanString(nw.Trigger.Event, true /* lower */)
	for i := range nw.Conditions {
		nw.Conditions[i].Field = core.CleanString(nw.Conditions[i].Field)
		nw.Conditions[i].Op = core.CleanString(nw.Conditions[i].Op, true /* lower */)
	}
	for i := range nw.Actions {
		nw.Actions[i].Channel = core.CleanString(nw.Actions[i].Channel, true /* lower */)
		for j := range nw.Actions[i].Recipients {
			nw.Actions[i].Recipients[j] = core.CleanString(nw.Actions[i].Recipients[j])
		}
		nw.Actions[i].Recipients = core.UniqueStrings(nw.Actions[i].Recipients)
	}

	if err := validate.Struct(nw); err != nil {
		return err
	}

	var flds []core.FieldError
	if nw.Trigger.Offset != 0 && nw.Trigger.Event != timeBasedEventType {
		flds = append(flds, core.FieldError{Field: "trigger.offset", Error: "only allowed for " + timeBasedEventType})
	}
	for i, c := range nw.Conditions {
		if msg := checkCondition(c); msg != "" {
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("conditions[%d].value", i), Error: msg})
		}
	}
	for i, a := range nw.Actions {
		if _, err := parseTemplate("subject", a.Subject); err != nil {
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("actions[%d].subject", i), Error: err.Error()})
		}
		if _, err := parseTemplate("body", a.Body); err != nil {
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("actions[%d].body", i), Error: err.Error()})
		}
	}
	if len(flds) > 0 {
		return core.NewValidationError(errors.New(flds[0].Error), flds...)
	}
	return nil
}

func (nw NewWorkflow) isActive() bool {
	return nw.IsActive == nil || *nw.IsActive
}

func checkCondition(c Condition) string {
	switch c.Op {
	case OpEq, OpNeq:
		if c.Value == nil {
			return "a value is required"
		}
	case OpIn:
		if _, ok := c.Value.([]interface{}); !ok {
			return "a list of values is required"
		}
	case OpExists:
		if c.Value != nil {
			if _, ok := c.Value.(bool); !ok {
				return "must be true or false"
			}
		}
	}
	return ""
}

func parseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=zero").Parse(text)
}

type WorkflowFilter struct {
	Event    string `query:"event"`
	IsActive *bool  `query:"is_active"`
}

type DeliveryFilter struct {
	Status      string `query:"status"`
	WorkflowID  string `query:"workflow_id"`
	RecipientID string `query:"recipient_id"`
	Limit       int    `query:"limit"`
}

func (df *DeliveryFilter) Clean() {
	df.Status = core.CleanString(df.Status, true /* lower */)
	if df.Limit <= 0 || df.Limit > 500 {
		df.Limit = 500
	}
}

// isUserRecipient tells whether r designates a single user ("user:<id>").
func isUserRecipient(r string) (string, bool) {
	if strings.HasPrefix(r, RecipientUserPrefix) {
		return strings.TrimPrefix(r, RecipientUserPrefix), true
	}
	return "", false
}
