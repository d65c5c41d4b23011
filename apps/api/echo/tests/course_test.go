package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core/course"
	testutil "github.com/trezcool/campus/tests"
)

func Test_courseApi_query(t *testing.T) {
	f := setup(t)

	algebra := testutil.CreateCourse(t, f.env, f.admin, "MATH-101", f.trainer.ID)
	biology := testutil.CreateCourse(t, f.env, f.admin, "BIO-101")
	chemistry := testutil.CreateCourse(t, f.env, f.admin, "CHEM-101")
	testutil.Enroll(t, f.env, f.admin, biology.ID, f.student.ID)

	f.runAll(t, []httpTest{
		{name: "Auth required", method: http.MethodGet, path: "/api/courses", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Admin sees all", method: http.MethodGet, path: "/api/courses", token: f.token(t, f.admin), wantData: marchallList(t, biology, chemistry, algebra)},
		{name: "Trainer sees own", method: http.MethodGet, path: "/api/courses", token: f.token(t, f.trainer), wantData: marchallList(t, algebra)},
		{name: "Student sees enrolled", method: http.MethodGet, path: "/api/courses", token: f.token(t, f.student), wantData: marchallList(t, biology)},
		{name: "search", method: http.MethodGet, path: "/api/courses?search=chem", token: f.token(t, f.admin), wantData: marchallList(t, chemistry)},
		{
			name: "order by -code", method: http.MethodGet, path: "/api/courses?ordering=-code", token: f.token(t, f.admin),
			wantData: marchallList(t, algebra, chemistry, biology),
		},
		{name: "Retrieve (enrolled)", method: http.MethodGet, path: "/api/courses/" + biology.ID, token: f.token(t, f.student), wantData: marchallObj(t, biology)},
		{
			name: "Retrieve (not enrolled)", method: http.MethodGet, path: "/api/courses/" + algebra.ID, token: f.token(t, f.student),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "course not found"}),
		},
	})
}

func Test_courseApi_crud(t *testing.T) {
	f := setup(t)
	adminToken := f.token(t, f.admin)

	f.runAll(t, []httpTest{
		{
			name: "Admin required", method: http.MethodPost, path: "/api/courses", token: f.token(t, f.trainer),
			body: []byte(`{"code":"X","title":"X"}`), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Missing fields", method: http.MethodPost, path: "/api/courses", token: adminToken,
			body: []byte(`{}`), wantCode: http.StatusBadRequest, wantData: []byte(`{"code":"this field is required","title":"this field is required"}`),
		},
		{
			name: "Trainer must be a trainer", method: http.MethodPost, path: "/api/courses", token: adminToken,
			body:     marchallObj(t, course.NewCourse{Code: "X", Title: "X", TrainerIDs: []string{f.student.ID}}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"trainer_ids": f.student.ID + " is not an active trainer of this organization"}),
		},
	})

	req, rec := newAuthRequest(http.MethodPost, "/api/courses", adminToken,
		marchallObj(t, course.NewCourse{Code: " GO-101 ", Title: "Go", TrainerIDs: []string{f.trainer.ID}}))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var c course.Course
	unmarshal(t, rec, &c)
	assert.Equal(t, "GO-101", c.Code)
	assert.Equal(t, []string{f.trainer.ID}, c.TrainerIDs)

	f.runAll(t, []httpTest{
		{
			name: "Duplicate code", method: http.MethodPost, path: "/api/courses", token: adminToken,
			body: []byte(`{"code":"go-101","title":"Go again"}`), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"code":"a course with this code already exists"}`),
		},
		{name: "Trainer can view", method: http.MethodGet, path: "/api/courses/" + c.ID, token: f.token(t, f.trainer), wantData: marchallObj(t, c)},
		{
			name: "Trainer cannot update", method: http.MethodPut, path: "/api/courses/" + c.ID, token: f.token(t, f.trainer),
			body: []byte(`{"title":"Lol"}`), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Unassign unknown trainer", method: http.MethodDelete, path: "/api/courses/" + c.ID + "/trainers/" + f.admin.ID, token: adminToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "trainer not found"}),
		},
	})

	req, rec = newAuthRequest(http.MethodPut, "/api/courses/"+c.ID, adminToken, []byte(`{"title":"Go Programming","is_published":true}`))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &c)
	assert.Equal(t, "Go Programming", c.Title)
	assert.True(t, c.IsPublished)
	assert.Equal(t, []string{f.trainer.ID}, c.TrainerIDs)

	req, rec = newAuthRequest(http.MethodDelete, "/api/courses/"+c.ID+"/trainers/"+f.trainer.ID, adminToken)
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &c)
	assert.Empty(t, c.TrainerIDs)

	f.runAll(t, []httpTest{
		{name: "Delete", method: http.MethodDelete, path: "/api/courses/" + c.ID, token: adminToken, wantCode: http.StatusNoContent},
		{
			name: "Deleted", method: http.MethodGet, path: "/api/courses/" + c.ID, token: adminToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "course not found"}),
		},
	})
}

func Test_courseApi_enrollments(t *testing.T) {
	f := setup(t)

	c := testutil.CreateCourse(t, f.env, f.admin, "GO-101", f.trainer.ID)
	other := testutil.CreateCourse(t, f.env, f.admin, "RUST-101")
	trainerToken := f.token(t, f.trainer)
	path := "/api/courses/" + c.ID + "/enrollments"

	f.runAll(t, []httpTest{
		{
			name: "Students cannot enroll", method: http.MethodPost, path: path, token: f.token(t, f.student),
			body: marchallObj(t, course.NewEnrollments{StudentIDs: []string{f.student.ID}}), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Trainers of other courses cannot enroll", method: http.MethodPost, path: "/api/courses/" + other.ID + "/enrollments", token: trainerToken,
			body: marchallObj(t, course.NewEnrollments{StudentIDs: []string{f.student.ID}}), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Inactive student", method: http.MethodPost, path: path, token: trainerToken,
			body: marchallObj(t, course.NewEnrollments{StudentIDs: []string{f.naughty.ID}}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"student_ids": f.naughty.ID + " is not an active student of this organization"}),
		},
	})

	req, rec := newAuthRequest(http.MethodPost, path, trainerToken, marchallObj(t, course.NewEnrollments{StudentIDs: []string{f.student.ID}}))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var enrollments []course.Enrollment
	unmarshal(t, rec, &enrollments)
	require.Len(t, enrollments, 1)
	e := enrollments[0]
	assert.Equal(t, course.StatusActive, e.Status)
	assert.Equal(t, f.student.ID, e.StudentID)

	// enrolling twice returns the active enrollment
	req, rec = newAuthRequest(http.MethodPost, path, trainerToken, marchallObj(t, course.NewEnrollments{StudentIDs: []string{f.student.ID}}))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallList(t, e)}, rec)

	f.runAll(t, []httpTest{
		{name: "List", method: http.MethodGet, path: path, token: trainerToken, wantData: marchallList(t, e)},
		{name: "Students cannot list", method: http.MethodGet, path: path, token: f.token(t, f.student), wantCode: http.StatusForbidden},
		{
			name: "Invalid status", method: http.MethodPut, path: path + "/" + f.student.ID, token: trainerToken,
			body: []byte(`{"status":"expelled"}`), wantCode: http.StatusBadRequest,
		},
	})

	req, rec = newAuthRequest(http.MethodPut, path+"/"+f.student.ID, trainerToken, []byte(`{"status":"withdrawn"}`))
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unmarshal(t, rec, &e)
	assert.Equal(t, course.StatusWithdrawn, e.Status)

	// withdrawn students lose access
	f.run(t, httpTest{
		method: http.MethodGet, path: "/api/courses/" + c.ID, token: f.token(t, f.student),
		wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "course not found"}),
	})
	f.run(t, httpTest{method: http.MethodGet, path: path + "?status=active", token: trainerToken, wantData: marchallList(t)})
}
