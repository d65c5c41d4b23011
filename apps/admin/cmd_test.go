package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core/organization"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/core/workflow"
	testutil "github.com/trezcool/campus/tests"
)

func setup(t *testing.T) (*commandLine, *testutil.Env, *bytes.Buffer) {
	env := testutil.NewEnv(t)
	out := new(bytes.Buffer)
	return &commandLine{app: env.Container, out: out}, env, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantField  string // field reported by a validation error
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, cli *commandLine, err error) {
	t.Helper()

	switch {
	case tt.wantField != "":
		if err == nil {
			t.Fatalf("cli.run() expected a validation error on %q", tt.wantField)
		}
		assert.Contains(t, cli.describe(err), tt.wantField+": ")
	case tt.wantErr != nil:
		if err != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err == nil || err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error = %v, wantErrStr %s", err, tt.wantErrStr)
		}
	case err != nil:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _, _ := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		if dir != "migrations" {
			return fmt.Errorf("unexpected dir %q", dir)
		}
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli, cli.run(context.Background(), args))
		})
	}
}

func Test_commandLine_createOrg(t *testing.T) {
	cli, env, out := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"createorg"}, wantErr: errHelp},
		{name: "no name", args: []string{"createorg", "-slug", "acme"}, wantErr: errHelp},
		{name: "create", args: []string{"createorg", "-slug", "acme", "-name", "Acme", "-timezone", "Africa/Kinshasa"}},
		{name: "invalid timezone", args: []string{"createorg", "-slug", "umbrella", "-name", "Umbrella", "-timezone", "Mars/Olympus"}, wantField: "timezone"},
		{name: "slug taken", args: []string{"createorg", "-slug", "acme", "-name", "Acme 2"}, wantField: "slug"},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli, cli.run(context.Background(), args))
		})
	}

	org, err := env.Orgs.GetBySlug(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", org.Name)
	assert.Equal(t, "Africa/Kinshasa", org.Timezone)
	assert.Contains(t, out.String(), fmt.Sprintf("organization %q created: %s", "acme", org.ID))
}

func Test_commandLine_addUser(t *testing.T) {
	cli, env, _ := setup(t)
	org := testutil.CreateOrg(t, env, "acme")

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no username nor email", args: []string{"adduser", "-org", "acme", "-name", "Awe"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-org", "acme", "-name", "Awe", "-username", "awesome"}, wantErr: errHelp},
		{
			name: "unknown org", args: []string{"adduser", "-org", "lol", "-name", "Awe", "-username", "awesome"},
			extra: extra{pwd: testutil.Password}, wantErr: organization.ErrNotFound,
		},
		{
			name: "weak password", args: []string{"adduser", "-org", "acme", "-name", "Awe", "-username", "awesome"},
			extra: extra{pwd: "lol"}, wantField: "password",
		},
		{
			name: "create", args: []string{"adduser", "-org", "acme", "-name", "Awe", "-username", "Awesome", "-role", "trainer:", "-admin"},
			extra: extra{pwd: testutil.Password},
		},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			pwd := ""
			if e, ok := tt.extra.(extra); ok {
				pwd = e.pwd
			}
			mockPassword(pwd)

			tt.check(t, cli, cli.run(context.Background(), args))
		})
	}

	usr, err := env.Users.GetByUsernameOrEmail(context.Background(), "awesome")
	require.NoError(t, err)
	assert.Equal(t, org.ID, usr.OrganizationID)
	assert.Equal(t, []string{user.RoleTrainer, user.RoleAdminOwner}, usr.Roles)
	assert.NoError(t, usr.CheckPassword(testutil.Password))
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, env, _ := setup(t)
	org := testutil.CreateOrg(t, env, "acme")
	usr := testutil.CreateUser(t, env.Repos.Users, org.ID, "User", "awesome", "awe@test.cd", "Old-Secret-1", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: testutil.Password}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: testutil.Password}},
		{name: "reset with email", args: []string{"resetpassword", "-username", "AWE@test.cd"}, extra: extra{pwd: "N3w-Secret!"}},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			pwd := ""
			if e, ok := tt.extra.(extra); ok {
				pwd = e.pwd
			}
			mockPassword(pwd)

			err := cli.run(context.Background(), args)
			tt.check(t, cli, err)
			if err == nil {
				refreshedUsr, err := env.Users.GetByID(context.Background(), usr.ID)
				require.NoError(t, err)
				assert.NoError(t, refreshedUsr.CheckPassword(pwd))
			}
		})
	}
}

func Test_commandLine_importWorkflows(t *testing.T) {
	cli, env, out := setup(t)
	org := testutil.CreateOrg(t, env, "acme")

	path := filepath.Join(t.TempDir(), "workflows.yml")
	yml := []byte(`
workflows:
  - name: Welcome
    trigger: {event: enrollment.created}
    actions:
      - channel: email
        recipients: [students]
        subject: Welcome
        body: "Welcome to {{.data.course.title}}"
`)
	require.NoError(t, os.WriteFile(path, yml, 0o600))

	tests := []cliTest{
		{name: "no args", args: []string{"importworkflows"}, wantErr: errHelp},
		{name: "unknown org", args: []string{"importworkflows", "-org", "lol", "-file", path}, wantErr: organization.ErrNotFound},
		{name: "import", args: []string{"importworkflows", "-org", "acme", "-file", path}},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli, cli.run(context.Background(), args))
		})
	}

	wfs, err := env.Workflows.Query(context.Background(), org.ID, workflow.WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	assert.Equal(t, "Welcome", wfs[0].Name)
	assert.Contains(t, out.String(), wfs[0].ID+"\tWelcome\tactive=true")

	err = cli.run(context.Background(), []string{"admin", "importworkflows", "-org", "acme", "-file", path + ".missing"})
	assert.Error(t, err)
}

func Test_commandLine_jobs(t *testing.T) {
	cli, _, out := setup(t)

	require.NoError(t, cli.run(context.Background(), []string{"admin", "generateinstances"}))
	assert.Contains(t, out.String(), "instances: 0 created, 0 updated, 0 removed")

	require.NoError(t, cli.run(context.Background(), []string{"admin", "generateinstances", "-days", "10"}))
	assert.Equal(t, errHelp, cli.run(context.Background(), []string{"admin", "generateinstances", "-days", "-1"}))

	require.NoError(t, cli.run(context.Background(), []string{"admin", "deliver"}))
	assert.Contains(t, out.String(), "deliveries: 0 enqueued, 0 sent, 0 failed, 0 dead")
}
