package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/directory"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/core/workflow"
	logsvc "github.com/trezcool/campus/services/logger"
	testutil "github.com/trezcool/campus/tests"
)

type flakySender struct {
	failures int
	sent     []string
}

func (s *flakySender) Send(_ context.Context, d workflow.Delivery, to user.User) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("gateway timeout")
	}
	s.sent = append(s.sent, to.ID+": "+d.Body)
	return nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func setup(t *testing.T) (*testutil.Env, workflow.Directory, user.User, user.User) {
	env := testutil.NewEnv(t)
	org := testutil.CreateOrg(t, env, "acme")
	admin := testutil.CreateUser(t, env.Repos.Users, org.ID, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	trainer := testutil.CreateUser(t, env.Repos.Users, org.ID, "Trainer", "trainer", "trainer@test.cd", "", []string{user.RoleTrainer}, true)
	return env, directory.New(env.Users, env.Courses, env.Sessions), admin, trainer
}

func TestWorker_retries(t *testing.T) {
	env, dir, admin, trainer := setup(t)
	ctx := context.Background()
	logger := logsvc.NewNopLogger()

	clk := &clock{now: time.Date(2021, 5, 3, 9, 0, 0, 0, time.UTC)}
	svc := workflow.NewService(env.Repos.Workflows, dir, logger)
	svc.SetClock(clk.Now)

	sender := &flakySender{failures: 3}
	worker := workflow.NewWorker(env.Repos.Workflows, dir, map[string]workflow.Sender{workflow.ChannelInApp: sender}, logger, workflow.WorkerConfig{
		MaxAttempts: 3,
		RetryBase:   time.Minute,
		RetryMax:    10 * time.Minute,
	})
	worker.SetClock(clk.Now, func() float64 { return 0 })

	wf, err := svc.Create(ctx, admin.OrganizationID, workflow.NewWorkflow{
		Name:    "Ping",
		Trigger: workflow.Trigger{Event: core.EventMessagePosted},
		Actions: []workflow.Action{{Channel: workflow.ChannelInApp, Recipients: []string{workflow.RecipientParticipants}, Body: "hi {{.recipient.name}}"}},
	})
	require.NoError(t, err)

	evt := core.Event{Key: "msg-1", OrganizationID: admin.OrganizationID, Type: core.EventMessagePosted, RecipientIDs: []string{trainer.ID}}
	n, err := svc.Dispatch(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the same event queues nothing new
	n, err = svc.Dispatch(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	delivery := func() workflow.Delivery {
		ds, err := svc.ListDeliveries(ctx, admin.OrganizationID, workflow.DeliveryFilter{WorkflowID: wf.ID})
		require.NoError(t, err)
		require.Len(t, ds, 1)
		return ds[0]
	}
	assert.Equal(t, workflow.IdempotencyKey(wf.ID, "msg-1", 0, trainer.ID), delivery().IdempotencyKey)

	steps := []struct {
		name        string
		advance     time.Duration
		want        workflow.DrainResult
		wantStatus  string
		wantAttempt int
		wantNext    time.Duration // from the step's clock
	}{
		{name: "first failure", want: workflow.DrainResult{Failed: 1}, wantStatus: workflow.StatusFailed, wantAttempt: 1, wantNext: time.Minute},
		{name: "not due yet", advance: 59 * time.Second, wantStatus: workflow.StatusFailed, wantAttempt: 1, wantNext: time.Second},
		{name: "second failure", advance: time.Second, want: workflow.DrainResult{Failed: 1}, wantStatus: workflow.StatusFailed, wantAttempt: 2, wantNext: 2 * time.Minute},
		{name: "dead", advance: 2 * time.Minute, want: workflow.DrainResult{Dead: 1}, wantStatus: workflow.StatusDead, wantAttempt: 3},
	}
	for _, step := range steps {
		clk.now = clk.now.Add(step.advance)
		res, err := worker.Drain(ctx)
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, res, step.name)

		d := delivery()
		assert.Equal(t, step.wantStatus, d.Status, step.name)
		assert.Equal(t, step.wantAttempt, d.Attempts, step.name)
		assert.Equal(t, "gateway timeout", d.LastError, step.name)
		if step.wantNext > 0 {
			assert.Equal(t, clk.now.Add(step.wantNext), d.NextAttemptAt, step.name)
		}
	}
	assert.Empty(t, sender.sent)

	d, err := svc.RetryDelivery(ctx, admin.OrganizationID, delivery().ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, d.Status)
	assert.Zero(t, d.Attempts)

	res, err := worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.DrainResult{Sent: 1}, res)
	d = delivery()
	assert.Equal(t, workflow.StatusSent, d.Status)
	require.NotNil(t, d.SentAt)
	assert.Equal(t, []string{trainer.ID + ": hi Trainer"}, sender.sent)
}

func TestWorker_throttled(t *testing.T) {
	env, dir, admin, trainer := setup(t)
	logger := logsvc.NewNopLogger()

	clk := &clock{now: time.Date(2021, 5, 3, 9, 0, 0, 0, time.UTC)}
	svc := workflow.NewService(env.Repos.Workflows, dir, logger)
	svc.SetClock(clk.Now)

	sender := &flakySender{}
	worker := workflow.NewWorker(env.Repos.Workflows, dir, map[string]workflow.Sender{workflow.ChannelInApp: sender}, logger, workflow.WorkerConfig{
		MaxAttempts: 1,
		RetryBase:   time.Minute,
		RatePerSec:  0.25, // one send every 4s
	})
	worker.SetClock(clk.Now, func() float64 { return 0 })

	_, err := svc.Create(context.Background(), admin.OrganizationID, workflow.NewWorkflow{
		Name:    "Ping",
		Trigger: workflow.Trigger{Event: core.EventMessagePosted},
		Actions: []workflow.Action{{Channel: workflow.ChannelInApp, Recipients: []string{workflow.RecipientParticipants}, Body: "hi"}},
	})
	require.NoError(t, err)
	n, err := svc.Dispatch(context.Background(), core.Event{
		Key: "msg-1", OrganizationID: admin.OrganizationID, Type: core.EventMessagePosted, RecipientIDs: []string{trainer.ID, admin.ID},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// the second send cannot get a token before the deadline
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := worker.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.DrainResult{Sent: 1, Failed: 1}, res)
	assert.Len(t, sender.sent, 1)

	ds, err := svc.ListDeliveries(context.Background(), admin.OrganizationID, workflow.DeliveryFilter{Status: workflow.StatusFailed})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Zero(t, ds[0].Attempts, "throttling does not use up an attempt")
	assert.Equal(t, clk.now.Add(4*time.Second), ds[0].NextAttemptAt)
	assert.Contains(t, ds[0].LastError, "delivery rate exceeded")
}

func TestService_Dispatch(t *testing.T) {
	env, dir, admin, trainer := setup(t)
	ctx := context.Background()
	orgID := admin.OrganizationID
	svc := workflow.NewService(env.Repos.Workflows, dir, logsvc.NewNopLogger())

	inactive := false
	defs := []workflow.NewWorkflow{
		{
			Name:    "Admins",
			Trigger: workflow.Trigger{Event: core.EventEnrollmentCreated},
			Actions: []workflow.Action{{Channel: workflow.ChannelInApp, Recipients: []string{workflow.RecipientAdmins, "user:" + admin.ID}, Body: "new enrollment"}},
		},
		{
			Name:       "Filtered",
			Trigger:    workflow.Trigger{Event: core.EventEnrollmentCreated},
			Conditions: []workflow.Condition{{Field: "course.code", Op: workflow.OpEq, Value: "GO-101"}},
			Actions:    []workflow.Action{{Channel: workflow.ChannelEmail, Recipients: []string{"user:" + trainer.ID}, Body: "go!"}},
		},
		{
			Name:     "Off",
			IsActive: &inactive,
			Trigger:  workflow.Trigger{Event: core.EventEnrollmentCreated},
			Actions:  []workflow.Action{{Channel: workflow.ChannelInApp, Recipients: []string{workflow.RecipientActor}, Body: "off"}},
		},
	}
	for _, nw := range defs {
		_, err := svc.Create(ctx, orgID, nw)
		require.NoError(t, err)
	}

	tests := []struct {
		name string
		evt  core.Event
		want int
	}{
		{name: "other event type", evt: core.Event{Key: "e1", OrganizationID: orgID, Type: core.EventMessagePosted}},
		{name: "other organization", evt: core.Event{Key: "e2", OrganizationID: "0d3cf3b6-2f7f-4a53-9b4e-0e0d1a8b8b8b", Type: core.EventEnrollmentCreated}},
		{
			name: "condition does not hold", want: 1, // admins, deduped
			evt: core.Event{Key: "e3", OrganizationID: orgID, Type: core.EventEnrollmentCreated, ActorID: trainer.ID, Data: map[string]interface{}{"course": map[string]interface{}{"code": "RUST-101"}}},
		},
		{
			name: "condition holds", want: 2,
			evt: core.Event{Key: "e4", OrganizationID: orgID, Type: core.EventEnrollmentCreated, Data: map[string]interface{}{"course": map[string]interface{}{"code": "GO-101"}}},
		},
		{name: "time-based events are fired by FireDue", evt: core.Event{Key: "e5", OrganizationID: orgID, Type: core.EventInstanceStarts}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			n, err := svc.Dispatch(ctx, tt.evt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestService_FireDue(t *testing.T) {
	env, dir, admin, trainer := setup(t)
	ctx := context.Background()
	orgID := admin.OrganizationID

	c := testutil.CreateCourse(t, env, admin, "GO-101", trainer.ID)
	start := time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour)
	ns := session.NewSession{CourseID: c.ID, Title: "Lecture", TrainerID: trainer.ID, StartsAt: start.Format("2006-01-02T15:04"), DurationMinutes: 60}
	require.NoError(t, ns.Validate(env.Validate))
	_, res, err := env.Sessions.Create(ctx, orgID, ns)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)

	clk := &clock{now: start.Add(-time.Hour - time.Minute)}
	svc := workflow.NewService(env.Repos.Workflows, dir, logsvc.NewNopLogger())
	svc.SetClock(clk.Now)

	_, err = svc.Create(ctx, orgID, workflow.NewWorkflow{
		Name:    "Reminder",
		Trigger: workflow.Trigger{Event: core.EventInstanceStarts, Offset: core.Duration(-time.Hour)},
		Actions: []workflow.Action{{Channel: workflow.ChannelInApp, Recipients: []string{workflow.RecipientParticipants}, Body: "{{.data.session.title}} in an hour"}},
	})
	require.NoError(t, err)

	steps := []struct {
		name    string
		advance time.Duration
		want    int
	}{
		{name: "too early", want: 0},
		{name: "due", advance: 90 * time.Second, want: 1},
		{name: "already fired", advance: time.Minute, want: 0},
	}
	for _, step := range steps {
		clk.now = clk.now.Add(step.advance)
		n, err := svc.FireDue(ctx)
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, n, step.name)
	}

	ds, err := svc.ListDeliveries(ctx, orgID, workflow.DeliveryFilter{RecipientID: trainer.ID})
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, core.EventInstanceStarts, ds[0].EventType)
	assert.Equal(t, "Lecture in an hour", ds[0].Body)
}
