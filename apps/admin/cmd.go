package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/campus/apps/api/di"
	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db  *sql.DB
	app *di.Container
	out io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                             - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  createorg -slug SLUG -name NAME [-timezone TZ]     - create an organization")
	fmt.Fprintln(cli.out, "  adduser -org SLUG -name NAME -username USERNAME [-admin] [-role ROLES] - create a user, the password is prompted")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL             - reset user's password")
	fmt.Fprintln(cli.out, "  importworkflows -org SLUG -file PATH               - import workflows from a YAML file")
	fmt.Fprintln(cli.out, "  generateinstances [-days N]                        - materialize session instances N days ahead")
	fmt.Fprintln(cli.out, "  deliver                                            - fire time-based workflows and send due deliveries")
}

// prompt reads a password from the terminal without echoing it.
func (cli *commandLine) prompt(label string) (string, error) {
	fmt.Fprint(cli.out, label)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	createOrgCmd := flag.NewFlagSet("createorg", flag.ExitOnError)
	createOrgSlug := createOrgCmd.String("slug", "", "The organization's slug.")
	createOrgName := createOrgCmd.String("name", "", "The organization's name.")
	createOrgTZ := createOrgCmd.String("timezone", "", "The organization's IANA timezone. Defaults to UTC.")

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserOrg := addUserCmd.String("org", "", "The slug of the user's organization.")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserRoles := addUserCmd.String("role", "", "Comma separated roles, e.g. trainer:,student:")
	addUserAdmin := addUserCmd.Bool("admin", false, "Make the user an owner of the organization.")
	addUserChatID := addUserCmd.Int64("telegram", 0, "The user's Telegram chat ID.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	importCmd := flag.NewFlagSet("importworkflows", flag.ExitOnError)
	importOrg := importCmd.String("org", "", "The slug of the organization owning the workflows.")
	importFile := importCmd.String("file", "", "Path to the YAML file.")

	generateCmd := flag.NewFlagSet("generateinstances", flag.ExitOnError)
	generateDays := generateCmd.Int("days", 0, "How many days ahead to materialize. Defaults to the configured horizon.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "createorg":
		if err := createOrgCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *createOrgSlug == "" || *createOrgName == "" {
			createOrgCmd.Usage()
			return errHelp
		}
		return cli.createOrg(ctx, *createOrgSlug, *createOrgName, *createOrgTZ)

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserOrg == "" || *addUserName == "" || (*addUserUname == "" && *addUserEmail == "") {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.prompt("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		var roles []string
		if *addUserRoles != "" {
			roles = strings.Split(*addUserRoles, ",")
		}
		if *addUserAdmin {
			roles = append(roles, user.RoleAdminOwner)
		}
		return cli.addUser(ctx, *addUserOrg, newUserArgs{
			name:   *addUserName,
			uname:  *addUserUname,
			email:  *addUserEmail,
			pwd:    pwd,
			roles:  roles,
			chatID: *addUserChatID,
		})

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.prompt("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(ctx, *resetPasswordUname, pwd)

	case "importworkflows":
		if err := importCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *importOrg == "" || *importFile == "" {
			importCmd.Usage()
			return errHelp
		}
		return cli.importWorkflows(ctx, *importOrg, *importFile)

	case "generateinstances":
		if err := generateCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *generateDays < 0 {
			generateCmd.Usage()
			return errHelp
		}
		return cli.generateInstances(ctx, *generateDays)

	case "deliver":
		return cli.deliver(ctx)

	default:
		cli.printUsage()
		return errHelp
	}
}

// describe renders validation errors one field per line.
func (cli *commandLine) describe(err error) string {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		lines := make([]string, 0, len(vErrs))
		for _, vErr := range vErrs {
			lines = append(lines, vErr.Field()+": "+vErr.Translate(cli.app.Translator))
		}
		return strings.Join(lines, "\n")
	}

	var appErr *core.ValidationError
	if errors.As(err, &appErr) && len(appErr.Fields) > 0 {
		lines := make([]string, 0, len(appErr.Fields))
		for _, fErr := range appErr.Fields {
			lines = append(lines, fErr.Field+": "+fErr.Error)
		}
		return strings.Join(lines, "\n")
	}
	return err.Error()
}
