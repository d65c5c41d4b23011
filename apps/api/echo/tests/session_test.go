package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/campus/apps/api/echo"
	"github.com/trezcool/campus/core/recurrence"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/user"
	testutil "github.com/trezcool/campus/tests"
)

type conflictErr struct {
	Error     string             `json:"error"`
	Conflicts []session.Conflict `json:"conflicts"`
}

// firstDay is a week from now at midnight UTC; weekly series starting then stay within the default listing range.
func firstDay() time.Time {
	return time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, 7)
}

func Test_sessionApi(t *testing.T) {
	f := setup(t)

	c := testutil.CreateCourse(t, f.env, f.admin, "GO-101", f.trainer.ID)
	other := testutil.CreateCourse(t, f.env, f.admin, "RUST-101")
	testutil.Enroll(t, f.env, f.admin, c.ID, f.student.ID)

	adminToken := f.token(t, f.admin)
	day := firstDay()
	ns := session.NewSession{
		CourseID:        c.ID,
		Title:           "Lecture",
		Location:        "Room 1",
		TrainerID:       f.trainer.ID,
		Timezone:        "UTC",
		StartsAt:        day.Add(10 * time.Hour).Format(recurrence.LocalLayout),
		DurationMinutes: 90,
		Recurrence:      &recurrence.Rule{Frequency: recurrence.Weekly, Count: 3},
	}

	f.runAll(t, []httpTest{
		{name: "Auth required", method: http.MethodPost, path: "/api/sessions", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", method: http.MethodPost, path: "/api/sessions", token: f.token(t, f.trainer),
			body: marchallObj(t, ns), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Missing fields", method: http.MethodPost, path: "/api/sessions", token: adminToken, body: []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"course_id":"this field is required","title":"this field is required","starts_at":"this field is required","duration_minutes":"this field is required"}`),
		},
		{
			name: "Trainer not assigned", method: http.MethodPost, path: "/api/sessions", token: adminToken,
			body: marchallObj(t, session.NewSession{
				CourseID: other.ID, Title: "X", TrainerID: f.trainer.ID, StartsAt: ns.StartsAt, DurationMinutes: 60,
			}),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"trainer_id":"the trainer is not assigned to this course"}`),
		},
		{
			name: "count and until", method: http.MethodPost, path: "/api/sessions", token: adminToken,
			body: marchallObj(t, session.NewSession{
				CourseID: c.ID, Title: "X", StartsAt: ns.StartsAt, DurationMinutes: 60,
				Recurrence: &recurrence.Rule{Frequency: recurrence.Daily, Count: 2, Until: day.AddDate(0, 0, 3).Format(recurrence.DateLayout)},
			}),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"recurrence.until":"count and until are mutually exclusive"}`),
		},
	})

	req, rec := newAuthRequest(http.MethodPost, "/api/sessions", adminToken, marchallObj(t, ns))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created echoapi.SessionResponse
	unmarshal(t, rec, &created)
	s := created.Session
	assert.Equal(t, session.GenerateResult{Created: 3}, created.Generated)
	assert.Equal(t, "Lecture", s.Title)
	assert.Equal(t, "UTC", s.Timezone)

	var instances []session.Instance
	rec = f.run(t, httpTest{method: http.MethodGet, path: "/api/instances?session_id=" + s.ID, token: adminToken})
	unmarshal(t, rec, &instances)
	require.Len(t, instances, 3)
	for i, inst := range instances {
		start := day.AddDate(0, 0, 7*i).Add(10 * time.Hour)
		assert.True(t, start.Equal(inst.StartsAt), "instance %d starts at %s", i, inst.StartsAt)
		assert.True(t, start.Add(90*time.Minute).Equal(inst.EndsAt))
		assert.Equal(t, session.StatusScheduled, inst.Status)
		assert.Equal(t, f.trainer.ID, inst.TrainerID)
	}

	t.Run("Conflicts", func(t *testing.T) {
		clash := session.NewSession{
			CourseID:        c.ID,
			Title:           "Lab",
			Location:        "Lab 2",
			TrainerID:       f.trainer.ID,
			Timezone:        "UTC",
			StartsAt:        day.Add(11 * time.Hour).Format(recurrence.LocalLayout),
			DurationMinutes: 60,
		}
		req, rec := newAuthRequest(http.MethodPost, "/api/sessions", adminToken, marchallObj(t, clash))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

		var cerr conflictErr
		unmarshal(t, rec, &cerr)
		assert.Equal(t, "the session conflicts with other scheduled sessions", cerr.Error)
		require.Len(t, cerr.Conflicts, 1)
		assert.Equal(t, "trainer:"+f.trainer.ID, cerr.Conflicts[0].Resource)
		assert.Equal(t, instances[0].ID, cerr.Conflicts[0].With.InstanceID)

		// touching sessions do not conflict
		clash.StartsAt = day.Add(11*time.Hour + 30*time.Minute).Format(recurrence.LocalLayout)
		req, rec = newAuthRequest(http.MethodPost, "/api/sessions", adminToken, marchallObj(t, clash))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		clash.StartsAt = day.Add(10 * time.Hour).Format(recurrence.LocalLayout)
		clash.AllowConflicts = true
		req, rec = newAuthRequest(http.MethodPost, "/api/sessions", adminToken, marchallObj(t, clash))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	})

	t.Run("Generate", func(t *testing.T) {
		path := "/api/sessions/" + s.ID + "/generate"
		f.runAll(t, []httpTest{
			{name: "Nothing new", method: http.MethodPost, path: path, token: adminToken, wantData: []byte(`{"created":0,"updated":0,"removed":0}`)},
			{
				name: "Past", method: http.MethodPost, path: path, token: adminToken, body: []byte(`{"until":"2001-01-01T00:00:00Z"}`),
				wantCode: http.StatusBadRequest, wantData: []byte(`{"until":"must be in the future"}`),
			},
			{
				name: "Too far", method: http.MethodPost, path: path, token: adminToken, body: []byte(`{"until":"2999-01-01T00:00:00Z"}`),
				wantCode: http.StatusBadRequest, wantData: []byte(`{"until":"may not be more than two years ahead"}`),
			},
			{
				name: "Unknown session", method: http.MethodPost, path: "/api/sessions/" + other.ID + "/generate", token: adminToken,
				wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "session not found"}),
			},
		})
	})

	t.Run("Visibility", func(t *testing.T) {
		outsider := testutil.CreateUser(t, f.env.Repos.Users, f.org.ID, "Out", "out", "out@test.cd", testutil.Password, []string{user.RoleStudent}, true)
		path := "/api/instances?session_id=" + s.ID

		f.run(t, httpTest{method: http.MethodGet, path: path, token: f.token(t, f.student), wantData: marchallList(t, instances[0], instances[1], instances[2])})
		f.run(t, httpTest{method: http.MethodGet, path: path, token: f.token(t, f.trainer), wantData: marchallList(t, instances[0], instances[1], instances[2])})
		f.run(t, httpTest{method: http.MethodGet, path: path, token: f.token(t, outsider), wantData: marchallList(t)})
		f.run(t, httpTest{
			method: http.MethodGet, path: "/api/instances/" + instances[0].ID, token: f.token(t, outsider),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "session instance not found"}),
		})
		f.run(t, httpTest{method: http.MethodGet, path: "/api/instances/" + instances[0].ID, token: f.token(t, f.student), wantData: marchallObj(t, instances[0])})
		f.run(t, httpTest{
			method: http.MethodGet, path: "/api/instances?from=2030-01-02T00:00:00Z&to=2030-01-01T00:00:00Z", token: adminToken,
			wantCode: http.StatusBadRequest, wantData: []byte(`{"to":"must be after from"}`),
		})
	})

	t.Run("Cancel", func(t *testing.T) {
		path := "/api/instances/" + instances[0].ID + "/cancel"
		f.run(t, httpTest{
			method: http.MethodPost, path: path, token: f.token(t, f.student), body: []byte(`{}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		})

		req, rec := newAuthRequest(http.MethodPost, path, f.token(t, f.trainer), []byte(`{"note":" sick "}`))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var cancelled session.Instance
		unmarshal(t, rec, &cancelled)
		assert.Equal(t, session.StatusCancelled, cancelled.Status)
		assert.True(t, cancelled.IsException)
		assert.Equal(t, "sick", cancelled.Note)

		// cancelling twice is a no-op
		f.run(t, httpTest{method: http.MethodPost, path: path, token: adminToken, body: []byte(`{}`), wantData: marchallObj(t, cancelled)})
		f.run(t, httpTest{
			method: http.MethodPost, path: "/api/instances/" + instances[0].ID + "/reschedule", token: adminToken,
			body:     []byte(`{"starts_at":"` + day.Add(14*time.Hour).Format(time.RFC3339) + `"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"status":"the instance is cancelled"}`),
		})

		// regenerating keeps exceptions
		f.run(t, httpTest{
			method: http.MethodPost, path: "/api/sessions/" + s.ID + "/generate", token: adminToken,
			wantData: []byte(`{"created":0,"updated":0,"removed":0}`),
		})
		f.run(t, httpTest{method: http.MethodGet, path: "/api/instances/" + instances[0].ID, token: adminToken, wantData: marchallObj(t, cancelled)})
	})

	t.Run("Reschedule", func(t *testing.T) {
		path := "/api/instances/" + instances[1].ID + "/reschedule"
		newStart := day.AddDate(0, 0, 8).Add(15 * time.Hour)

		f.run(t, httpTest{
			method: http.MethodPost, path: path, token: f.token(t, f.student),
			body:     []byte(`{"starts_at":"` + newStart.Format(time.RFC3339) + `"}`),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		})
		f.run(t, httpTest{
			method: http.MethodPost, path: path, token: adminToken, body: []byte(`{"note":"x"}`),
			wantCode: http.StatusBadRequest, wantData: []byte(`{"starts_at":"this field is required"}`),
		})

		req, rec := newAuthRequest(http.MethodPost, path, f.token(t, f.trainer),
			[]byte(`{"starts_at":"`+newStart.Format(time.RFC3339)+`","duration_minutes":45,"location":"Room 9"}`))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var moved session.Instance
		unmarshal(t, rec, &moved)
		assert.True(t, newStart.Equal(moved.StartsAt))
		assert.True(t, newStart.Add(45*time.Minute).Equal(moved.EndsAt))
		assert.Equal(t, "Room 9", moved.Location)
		assert.Equal(t, session.StatusScheduled, moved.Status)
		assert.True(t, moved.IsException)
		assert.Equal(t, instances[1].OccurrenceKey, moved.OccurrenceKey)

		// moving onto another instance of the same trainer conflicts
		f.run(t, httpTest{
			method: http.MethodPost, path: "/api/instances/" + instances[2].ID + "/reschedule", token: adminToken,
			body:     []byte(`{"starts_at":"` + newStart.Add(15*time.Minute).Format(time.RFC3339) + `"}`),
			wantCode: http.StatusConflict,
		})
	})

	t.Run("Update and delete", func(t *testing.T) {
		path := "/api/sessions/" + s.ID
		req, rec := newAuthRequest(http.MethodPut, path, adminToken, []byte(`{"title":" Lecture II ","capacity":30}`))
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var updated echoapi.SessionResponse
		unmarshal(t, rec, &updated)
		assert.Equal(t, "Lecture II", updated.Session.Title)
		assert.Equal(t, 30, updated.Session.Capacity)

		f.runAll(t, []httpTest{
			{name: "Delete", method: http.MethodDelete, path: path, token: adminToken, wantCode: http.StatusNoContent},
			{name: "Deleted", method: http.MethodGet, path: path, token: adminToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "session not found"})},
			{name: "Instances deleted", method: http.MethodGet, path: "/api/instances?session_id=" + s.ID, token: adminToken, wantData: marchallList(t)},
		})
	})
}
