package core

import (
	"context"
	"time"
)

// Domain event types.
const (
	EventEnrollmentCreated          = "enrollment.created"
	EventEnrollmentStatusChanged    = "enrollment.status_changed"
	EventInstanceStarts             = "session.instance.starts"
	EventInstanceCancelled          = "session.instance.cancelled"
	EventInstanceRescheduled        = "session.instance.rescheduled"
	EventMessagePosted              = "message.posted"
	EventQuestionnaireResponseAdded = "questionnaire.response.submitted"
)

var EventTypes = []string{
	EventEnrollmentCreated,
	EventEnrollmentStatusChanged,
	EventInstanceStarts,
	EventInstanceCancelled,
	EventInstanceRescheduled,
	EventMessagePosted,
	EventQuestionnaireResponseAdded,
}

type (
	// Event is something that happened inside an organization that workflows may react to.
	// Key must be stable for the same logical occurrence: it is part of every delivery's idempotency key.
	Event struct {
		Key            string                 `json:"key"`
		OrganizationID string                 `json:"organization_id"`
		Type           string                 `json:"type"`
		OccurredAt     time.Time              `json:"occurred_at"`
		ActorID        string                 `json:"actor_id,omitempty"`
		CourseID       string                 `json:"course_id,omitempty"`
		InstanceID     string                 `json:"instance_id,omitempty"`
		RecipientIDs   []string               `json:"recipient_ids,omitempty"`
		Data           map[string]interface{} `json:"data,omitempty"`
	}

	EventPublisher interface {
		Publish(ctx context.Context, evt Event) error
	}
)

// PublishEvent publishes evt if pub is set. Failures are logged, never returned:
// the operation that produced the event has already been committed.
func PublishEvent(ctx context.Context, pub EventPublisher, logger Logger, evt Event) {
	if pub == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if err := pub.Publish(ctx, evt); err != nil && logger != nil {
		logger.Error("publishing event "+evt.Type, err, map[string]interface{}{"key": evt.Key, "org": evt.OrganizationID})
	}
}
