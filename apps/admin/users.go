package main

import (
	"context"
	"fmt"

	"github.com/trezcool/campus/core/organization"
	"github.com/trezcool/campus/core/user"
)

func (cli *commandLine) createOrg(ctx context.Context, slug, name, tz string) error {
	no := organization.NewOrganization{Name: name, Slug: slug, Timezone: tz}
	if err := no.Validate(cli.app.Validate); err != nil {
		return err
	}
	org, err := cli.app.Orgs.Create(ctx, no)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "organization %q created: %s\n", org.Slug, org.ID)
	return nil
}

type newUserArgs struct {
	name, uname, email, pwd string
	roles                   []string
	chatID                  int64
}

func (cli *commandLine) addUser(ctx context.Context, orgSlug string, args newUserArgs) error {
	org, err := cli.app.Orgs.GetBySlug(ctx, orgSlug)
	if err != nil {
		return err
	}

	nu := user.NewUser{
		Name:            args.name,
		Username:        args.uname,
		Email:           args.email,
		Password:        args.pwd,
		PasswordConfirm: args.pwd,
		Roles:           args.roles,
		TelegramChatID:  args.chatID,
	}
	if err = nu.Validate(ctx, cli.app.Validate, cli.app.Users); err != nil {
		return err
	}
	usr, err := cli.app.Users.Create(ctx, org.ID, nu)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %q created: %s\n", usr.Username, usr.ID)
	return nil
}

func (cli *commandLine) resetPassword(ctx context.Context, uname, pwd string) error {
	usr, err := cli.app.Users.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	uu := user.UpdateUser{Password: pwd, PasswordConfirm: pwd}
	if err = uu.Validate(ctx, usr, cli.app.Validate, cli.app.Users); err != nil {
		return err
	}
	_, err = cli.app.Users.Update(ctx, usr, uu)
	return err
}
