package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/campus/core"
)

func TestWorkflow_Matches(t *testing.T) {
	evt := core.Event{
		Type:     core.EventEnrollmentStatusChanged,
		CourseID: "c1",
		Data: map[string]interface{}{
			"to":     "completed",
			"course": map[string]interface{}{"code": "GO101", "credits": 3},
		},
	}

	tests := []struct {
		name  string
		conds []Condition
		want  bool
	}{
		{"no condition", nil, true},
		{"eq", []Condition{{Field: "to", Op: OpEq, Value: "completed"}}, true},
		{"eq nested", []Condition{{Field: "course.code", Op: OpEq, Value: "GO101"}}, true},
		{"eq number decoded from json", []Condition{{Field: "course.credits", Op: OpEq, Value: float64(3)}}, true},
		{"eq mismatch", []Condition{{Field: "to", Op: OpEq, Value: "withdrawn"}}, false},
		{"eq missing field", []Condition{{Field: "from", Op: OpEq, Value: "active"}}, false},
		{"neq", []Condition{{Field: "to", Op: OpNeq, Value: "withdrawn"}}, true},
		{"neq missing field", []Condition{{Field: "course.title", Op: OpNeq, Value: "x"}}, true},
		{"in", []Condition{{Field: "to", Op: OpIn, Value: []interface{}{"withdrawn", "completed"}}}, true},
		{"in mismatch", []Condition{{Field: "to", Op: OpIn, Value: []interface{}{"active"}}}, false},
		{"exists", []Condition{{Field: "course.code", Op: OpExists}}, true},
		{"exists false", []Condition{{Field: "course.title", Op: OpExists, Value: false}}, true},
		{"event envelope", []Condition{{Field: "event.course_id", Op: OpEq, Value: "c1"}}, true},
		{"all must hold", []Condition{
			{Field: "to", Op: OpEq, Value: "completed"},
			{Field: "event.course_id", Op: OpEq, Value: "c2"},
		}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wf := Workflow{Trigger: Trigger{Event: core.EventEnrollmentStatusChanged}, Conditions: tc.conds}
			assert.Equal(t, tc.want, wf.Matches(evt))
		})
	}

	t.Run("other event type", func(t *testing.T) {
		wf := Workflow{Trigger: Trigger{Event: core.EventMessagePosted}}
		assert.False(t, wf.Matches(evt))
	})
}

func TestIdempotencyKey(t *testing.T) {
	k := IdempotencyKey("wf", "evt", 0, "u1")
	assert.Len(t, k, 64)
	assert.Equal(t, k, IdempotencyKey("wf", "evt", 0, "u1"))
	assert.NotEqual(t, k, IdempotencyKey("wf", "evt", 1, "u1"))
	assert.NotEqual(t, k, IdempotencyKey("wf", "evt", 0, "u2"))
	assert.NotEqual(t, k, IdempotencyKey("wf", "evt2", 0, "u1"))
}
