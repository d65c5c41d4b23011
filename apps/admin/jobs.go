package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/session"
)

func (cli *commandLine) importWorkflows(ctx context.Context, orgSlug, path string) error {
	org, err := cli.app.Orgs.GetBySlug(ctx, orgSlug)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening workflows file")
	}
	defer f.Close()

	wfs, err := cli.app.Workflows.Import(ctx, org.ID, f, cli.app.Validate)
	if err != nil {
		return err
	}
	for _, wf := range wfs {
		fmt.Fprintf(cli.out, "%s\t%s\tactive=%t\n", wf.ID, wf.Name, wf.IsActive)
	}
	return nil
}

// generateInstances extends every session up to `days` from now, or up to the horizon when days is 0.
func (cli *commandLine) generateInstances(ctx context.Context, days int) error {
	var (
		res session.GenerateResult
		err error
	)
	if days > 0 {
		res, err = cli.app.Sessions.ExtendTo(ctx, time.Now().UTC().AddDate(0, 0, days))
	} else {
		res, err = cli.app.Sessions.ExtendHorizon(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "instances: %d created, %d updated, %d removed\n", res.Created, res.Updated, res.Removed)
	return nil
}

func (cli *commandLine) deliver(ctx context.Context) error {
	fired, err := cli.app.Workflows.FireDue(ctx)
	if err != nil {
		return err
	}
	res, err := cli.app.Worker.Drain(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "deliveries: %d enqueued, %d sent, %d failed, %d dead\n", fired, res.Sent, res.Failed, res.Dead)
	return nil
}
