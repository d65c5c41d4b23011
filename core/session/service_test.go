package session_test

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/recurrence"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/user"
	testutil "github.com/trezcool/campus/tests"
)

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func starts(instances []session.Instance) []time.Time {
	out := make([]time.Time, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.StartsAt)
	}
	return out
}

func TestService_series(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	org := testutil.CreateOrg(t, env, "acme", "America/New_York")
	admin := testutil.CreateUser(t, env.Repos.Users, org.ID, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	trainer := testutil.CreateUser(t, env.Repos.Users, org.ID, "Trainer", "trainer", "trainer@test.cd", "", []string{user.RoleTrainer}, true)
	c := testutil.CreateCourse(t, env, admin, "GO-101", trainer.ID)

	now := utc("2021-03-01T12:00:00Z")
	env.Sessions.SetClock(func() time.Time { return now })

	ns := session.NewSession{
		CourseID:        c.ID,
		Title:           "Lecture",
		TrainerID:       trainer.ID,
		StartsAt:        "2021-03-08T09:00",
		DurationMinutes: 90,
		Recurrence:      &recurrence.Rule{Frequency: recurrence.Weekly, Count: 3},
	}
	require.NoError(t, ns.Validate(env.Validate))
	s, res, err := env.Sessions.Create(ctx, org.ID, ns)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", s.Timezone)
	assert.Equal(t, session.GenerateResult{Created: 3}, res)

	instances := func() []session.Instance {
		insts, err := env.Sessions.ListInstances(ctx, admin, session.InstanceFilter{
			SessionID: s.ID,
			From:      utc("2021-03-01T00:00:00Z"),
			To:        utc("2021-04-01T00:00:00Z"),
		})
		require.NoError(t, err)
		return insts
	}

	// 09:00 in New York is 14:00 UTC before the switch to daylight time, 13:00 after
	insts := instances()
	assert.Equal(t, []time.Time{utc("2021-03-08T14:00:00Z"), utc("2021-03-15T13:00:00Z"), utc("2021-03-22T13:00:00Z")}, starts(insts))
	assert.Equal(t, utc("2021-03-08T15:30:00Z"), insts[0].EndsAt)

	t.Run("generating again changes nothing", func(t *testing.T) {
		res, err := env.Sessions.Generate(ctx, org.ID, s.ID, now.Add(30*24*time.Hour), false)
		require.NoError(t, err)
		assert.Equal(t, session.GenerateResult{}, res)
	})

	// a cancelled instance is an exception: the series leaves it alone
	cancelled, err := env.Sessions.Cancel(ctx, admin, insts[1].ID, session.CancelInstance{Note: "holiday"})
	require.NoError(t, err)
	assert.Equal(t, session.StatusCancelled, cancelled.Status)
	assert.True(t, cancelled.IsException)

	// the first instance is past
	now = utc("2021-03-09T00:00:00Z")

	loc := "Room 1"
	s, res, err = env.Sessions.Update(ctx, org.ID, s.ID, session.UpdateSession{DurationMinutes: 60, Location: &loc})
	require.NoError(t, err)
	assert.Equal(t, session.GenerateResult{Updated: 1}, res)

	insts = instances()
	require.Len(t, insts, 3)
	assert.Equal(t, utc("2021-03-08T15:30:00Z"), insts[0].EndsAt, "past instances are kept")
	assert.Equal(t, session.StatusCancelled, insts[1].Status)
	assert.Equal(t, "", insts[1].Location)
	assert.Equal(t, utc("2021-03-22T14:00:00Z"), insts[2].EndsAt)
	assert.Equal(t, "Room 1", insts[2].Location)

	s, res, err = env.Sessions.Update(ctx, org.ID, s.ID, session.UpdateSession{Recurrence: &recurrence.Rule{Frequency: recurrence.Weekly, Count: 2}})
	require.NoError(t, err)
	assert.Equal(t, session.GenerateResult{Removed: 1}, res)
	assert.Equal(t, []time.Time{utc("2021-03-08T14:00:00Z"), utc("2021-03-15T13:00:00Z")}, starts(instances()))

	t.Run("rescheduled instances keep their new slot", func(t *testing.T) {
		ns := session.NewSession{CourseID: c.ID, Title: "Lab", StartsAt: "2021-03-10T09:00", DurationMinutes: 60, Recurrence: &recurrence.Rule{Frequency: recurrence.Daily, Count: 2}}
		require.NoError(t, ns.Validate(env.Validate))
		lab, _, err := env.Sessions.Create(ctx, org.ID, ns)
		require.NoError(t, err)

		labInsts, err := env.Sessions.ListInstances(ctx, admin, session.InstanceFilter{SessionID: lab.ID, From: utc("2021-03-01T00:00:00Z")})
		require.NoError(t, err)
		require.Len(t, labInsts, 2)

		moved, err := env.Sessions.Reschedule(ctx, admin, labInsts[0].ID, session.RescheduleInstance{StartsAt: utc("2021-03-10T20:00:00Z")})
		require.NoError(t, err)
		assert.True(t, moved.IsException)
		assert.Equal(t, utc("2021-03-10T21:00:00Z"), moved.EndsAt)

		_, res, err := env.Sessions.Update(ctx, org.ID, lab.ID, session.UpdateSession{DurationMinutes: 30})
		require.NoError(t, err)
		assert.Equal(t, session.GenerateResult{Updated: 1}, res)

		got, err := env.Sessions.GetInstance(ctx, admin, moved.ID)
		require.NoError(t, err)
		assert.Equal(t, moved.StartsAt, got.StartsAt)
		assert.Equal(t, moved.EndsAt, got.EndsAt)
	})
}

func TestService_timezoneChange(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	org := testutil.CreateOrg(t, env, "acme")
	admin := testutil.CreateUser(t, env.Repos.Users, org.ID, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	c := testutil.CreateCourse(t, env, admin, "GO-101")

	now := utc("2021-03-01T00:00:00Z")
	env.Sessions.SetClock(func() time.Time { return now })

	ns := session.NewSession{
		CourseID:        c.ID,
		Title:           "Standup",
		StartsAt:        "2021-03-01T09:00",
		DurationMinutes: 15,
		Recurrence:      &recurrence.Rule{Frequency: recurrence.Daily, Count: 5},
	}
	require.NoError(t, ns.Validate(env.Validate))
	s, res, err := env.Sessions.Create(ctx, org.ID, ns)
	require.NoError(t, err)
	require.Equal(t, session.GenerateResult{Created: 5}, res)

	// the 03-03 instance is over; 09:00 in Los Angeles is 17:00 UTC, still ahead on that day
	now = utc("2021-03-03T12:00:00Z")
	us := session.UpdateSession{Timezone: "America/Los_Angeles"}
	require.NoError(t, us.Validate(env.Validate))
	_, res, err = env.Sessions.Update(ctx, org.ID, s.ID, us)
	require.NoError(t, err)
	assert.Equal(t, session.GenerateResult{Updated: 2}, res)

	insts, err := env.Sessions.ListInstances(ctx, admin, session.InstanceFilter{
		SessionID: s.ID,
		From:      utc("2021-03-01T00:00:00Z"),
		To:        utc("2021-03-10T00:00:00Z"),
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		utc("2021-03-01T09:00:00Z"),
		utc("2021-03-02T09:00:00Z"),
		utc("2021-03-03T09:00:00Z"),
		utc("2021-03-04T17:00:00Z"),
		utc("2021-03-05T17:00:00Z"),
	}, starts(insts))
}

func TestService_conflicts(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	org := testutil.CreateOrg(t, env, "acme")
	admin := testutil.CreateUser(t, env.Repos.Users, org.ID, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	c := testutil.CreateCourse(t, env, admin, "GO-101")
	env.Sessions.SetClock(func() time.Time { return utc("2021-03-01T12:00:00Z") })

	create := func(title, startsAt, location string, allow bool) (session.GenerateResult, error) {
		ns := session.NewSession{CourseID: c.ID, Title: title, Location: location, StartsAt: startsAt, DurationMinutes: 60, AllowConflicts: allow}
		require.NoError(t, ns.Validate(env.Validate))
		_, res, err := env.Sessions.Create(ctx, org.ID, ns)
		return res, err
	}

	_, err := create("A", "2021-03-10T09:00", "Room 1", false)
	require.NoError(t, err)

	tests := []struct {
		name         string
		startsAt     string
		location     string
		allow        bool
		wantConflict bool
	}{
		{name: "same room, overlapping", startsAt: "2021-03-10T09:30", location: "room 1 ", wantConflict: true},
		{name: "same room, touching", startsAt: "2021-03-10T10:00", location: "Room 1"},
		{name: "other room", startsAt: "2021-03-10T09:00", location: "Room 2"},
		{name: "allowed", startsAt: "2021-03-10T09:15", location: "Room 1", allow: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			res, err := create(tt.name, tt.startsAt, tt.location, tt.allow)
			if !tt.wantConflict {
				require.NoError(t, err)
				assert.Equal(t, 1, res.Created)
				return
			}
			cErr, ok := err.(*core.ConflictError)
			require.True(t, ok, "expected a conflict error, got %v", err)
			conflicts, ok := cErr.Items.([]session.Conflict)
			require.True(t, ok)
			require.Len(t, conflicts, 1)
			assert.Equal(t, "location:room 1", conflicts[0].Resource)
		})
	}
}
