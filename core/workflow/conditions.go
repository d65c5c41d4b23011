package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/trezcool/campus/core"
)

// envelope exposes the event's own fields to conditions and templates.
func envelope(evt core.Event) map[string]interface{} {
	return map[string]interface{}{
		"key":             evt.Key,
		"type":            evt.Type,
		"organization_id": evt.OrganizationID,
		"occurred_at":     evt.OccurredAt.UTC().Format(time.RFC3339),
		"actor_id":        evt.ActorID,
		"course_id":       evt.CourseID,
		"instance_id":     evt.InstanceID,
	}
}

// lookup resolves a dot path in evt: "event.<field>" in the envelope, anything else in the data.
func lookup(evt core.Event, path string) (interface{}, bool) {
	var cur interface{} = evt.Data
	if strings.HasPrefix(path, "event.") {
		cur = envelope(evt)
		path = strings.TrimPrefix(path, "event.")
	}
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// equal compares values loosely: numbers decoded from JSON (float64) match ints of the same value.
func equal(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func (c Condition) holds(evt core.Event) bool {
	v, found := lookup(evt, c.Field)
	switch c.Op {
	case OpExists:
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return found == want
	case OpEq:
		return found && equal(v, c.Value)
	case OpNeq:
		return !found || !equal(v, c.Value)
	case OpIn:
		if !found {
			return false
		}
		list, _ := c.Value.([]interface{})
		for _, item := range list {
			if equal(v, item) {
				return true
			}
		}
	}
	return false
}

// Matches tells whether every condition of wf holds for evt.
func (wf Workflow) Matches(evt core.Event) bool {
	if wf.Trigger.Event != evt.Type {
		return false
	}
	for _, c := range wf.Conditions {
		if !c.holds(evt) {
			return false
		}
	}
	return true
}
