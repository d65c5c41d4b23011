package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/campus/apps/api/di"
	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/course"
	"github.com/trezcool/campus/core/organization"
	"github.com/trezcool/campus/core/user"
	appfs "github.com/trezcool/campus/fs"
	emailsvc "github.com/trezcool/campus/services/email"
	logsvc "github.com/trezcool/campus/services/logger"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
)

// Password satisfies the password policy.
const Password = "Sup3r-Secret!"

// Env is a fully wired application backed by an in-memory database.
type Env struct {
	*di.Container
	DB    *inmemdb.DB
	Repos di.Repositories
}

// NewEnv returns a fresh Env. Deliveries are sent as soon as they are enqueued.
func NewEnv(t *testing.T, conf ...*core.Config) *Env {
	t.Helper()

	cfg := core.NewTestConfig()
	if len(conf) > 0 {
		cfg = conf[0]
	}
	logger := logsvc.NewNopLogger()
	mailSvc := emailsvc.NewConsoleServiceMock(cfg, logger)
	emailsvc.ResetSentMessages()
	core.ParseEmailTemplates(logger, appfs.EmailTemplates(), cfg)

	db := inmemdb.Open()
	repos := di.NewInMemRepositories(db)
	return &Env{
		Container: di.New(di.Options{
			Conf:         cfg,
			Logger:       logger,
			Repos:        repos,
			MailSvc:      mailSvc,
			SyncDelivery: true,
		}),
		DB:    db,
		Repos: repos,
	}
}

func CreateOrg(t *testing.T, env *Env, slug string, timezone ...string) organization.Organization {
	t.Helper()

	no := organization.NewOrganization{Name: slug, Slug: slug}
	if len(timezone) > 0 {
		no.Timezone = timezone[0]
	}
	if err := no.Validate(env.Validate); err != nil {
		t.Fatalf("CreateOrg() failed: %v", err)
	}
	org, err := env.Orgs.Create(context.Background(), no)
	if err != nil {
		t.Fatalf("CreateOrg() failed: %v", err)
	}
	return org
}

// CreateUser stores a user straight through the repository; pwd may be empty.
func CreateUser(
	t *testing.T,
	repo user.Repository,
	orgID, name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		OrganizationID: orgID,
		Name:           name,
		Username:       uname,
		Email:          email,
		Roles:          roles,
		IsActive:       isActive,
		CreatedAt:      tstamp,
		UpdatedAt:      tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateCourse(t *testing.T, env *Env, actor user.User, code string, trainerIDs ...string) course.Course {
	t.Helper()

	nc := course.NewCourse{Code: code, Title: "Course " + code, IsPublished: true, TrainerIDs: trainerIDs}
	if err := nc.Validate(env.Validate); err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	c, err := env.Courses.Create(context.Background(), actor, nc)
	if err != nil {
		t.Fatalf("CreateCourse() failed: %v", err)
	}
	return c
}

func Enroll(t *testing.T, env *Env, actor user.User, courseID string, studentIDs ...string) []course.Enrollment {
	t.Helper()

	ne := course.NewEnrollments{StudentIDs: studentIDs}
	if err := ne.Validate(env.Validate); err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	enrollments, err := env.Courses.Enroll(context.Background(), actor, courseID, ne)
	if err != nil {
		t.Fatalf("Enroll() failed: %v", err)
	}
	return enrollments
}
