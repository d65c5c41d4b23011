package main

import (
	"context"
	"fmt"
	"os"

	"github.com/trezcool/campus/apps/api/di"
	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
	appfs "github.com/trezcool/campus/fs"
	logsvc "github.com/trezcool/campus/services/logger"
	"github.com/trezcool/campus/storage/database"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(os.Stdout, "ADMIN", conf)
	logger.Enable(!conf.Debug)

	ctx := context.Background()

	// set up DB; migrations are left to the migrate command
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	app := di.New(di.Options{
		Conf:    conf,
		Logger:  logger,
		Repos:   di.NewBoiledRepositories(db),
		MailSvc: di.NewEmailService(conf, logger),
	})
	core.ParseEmailTemplates(logger, appfs.EmailTemplates(), conf)
	user.LoadCommonPasswords(logger, appfs.FS, appfs.CommonPasswordsGZ)

	// start CLI
	cli := commandLine{db: db, app: app, out: os.Stdout}
	err = cli.run(ctx, os.Args)

	_ = db.Close()
	logger.Close(conf.Server.ShutdownTimeout)
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", cli.describe(err))
		}
		os.Exit(1)
	}
}
