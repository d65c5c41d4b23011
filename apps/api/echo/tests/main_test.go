package tests

import (
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	echoapi "github.com/trezcool/campus/apps/api/echo"
	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/organization"
	"github.com/trezcool/campus/core/user"
	testutil "github.com/trezcool/campus/tests"
)

// fixture is a running API with one organization and a user per role.
type fixture struct {
	env *testutil.Env
	app *echoapi.Server
	org organization.Organization

	owner, admin, trainer, student, naughty user.User
}

func setup(t *testing.T, conf ...*core.Config) *fixture {
	env := testutil.NewEnv(t, conf...)
	app := echoapi.NewServer(echoapi.ServerDeps{
		Conf:             env.Conf,
		Logger:           env.Logger,
		Validate:         env.Validate,
		Translator:       env.Translator,
		OrgSvc:           env.Orgs,
		UserSvc:          env.Users,
		CourseSvc:        env.Courses,
		SessionSvc:       env.Sessions,
		QuestionnaireSvc: env.Questionnaires,
		ConversationSvc:  env.Conversations,
		NotificationSvc:  env.Notifications,
		WorkflowSvc:      env.Workflows,
	})

	org := testutil.CreateOrg(t, env, "acme")
	now := time.Now().UTC()
	users := env.Repos.Users
	return &fixture{
		env:     env,
		app:     app,
		org:     org,
		owner:   testutil.CreateUser(t, users, org.ID, "Owner", "owner", "owner@test.cd", testutil.Password, []string{user.RoleAdminOwner}, true, now.Add(-5*time.Hour)),
		admin:   testutil.CreateUser(t, users, org.ID, "Admin", "admin", "admin@test.cd", testutil.Password, []string{user.RoleAdmin}, true, now.Add(-4*time.Hour)),
		trainer: testutil.CreateUser(t, users, org.ID, "Trainer", "trainer", "trainer@test.cd", testutil.Password, []string{user.RoleTrainer}, true, now.Add(-3*time.Hour)),
		student: testutil.CreateUser(t, users, org.ID, "Hero", "hero", "hero@test.cd", testutil.Password, []string{user.RoleStudent}, true, now.Add(-2*time.Hour)),
		naughty: testutil.CreateUser(t, users, org.ID, "N Dog", "ndog", "ndog@test.cd", testutil.Password, []string{user.RoleStudent}, false, now.Add(-1*time.Hour)),
	}
}

func (f *fixture) token(t *testing.T, usr user.User) string {
	token, err := f.app.IssueToken(usr)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}
	return token
}

// run serves tt; a zero wantCode means 200.
func (f *fixture) run(t *testing.T, tt httpTest) *httptest.ResponseRecorder {
	if tt.wantCode == 0 {
		tt.wantCode = 200
	}
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	f.app.ServeHTTP(rec, req)
	checkCodeAndData(t, tt, rec)
	return rec
}

func (f *fixture) runAll(t *testing.T, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.run(t, tt)
		})
	}
}
