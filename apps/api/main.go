package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"

	"github.com/trezcool/campus/apps/api/di"
	echoapi "github.com/trezcool/campus/apps/api/echo"
	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/core/workflow"
	appfs "github.com/trezcool/campus/fs"
	logsvc "github.com/trezcool/campus/services/logger"
	schedulersvc "github.com/trezcool/campus/services/scheduler"
	telegramsvc "github.com/trezcool/campus/services/telegram"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(os.Stdout, "API", conf)
	logger.Enable(!conf.Debug)
	defer logger.Close(conf.Server.ShutdownTimeout)

	dbLogger := logsvc.NewRollbarLogger(os.Stdout, "DB", conf)
	dbLogger.Enable(!conf.Debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// set up DB
	var repos di.Repositories
	if conf.Env == "TEST" {
		repos = di.NewInMemRepositories(inmemdb.Open())
	} else {
		db, err := di.SetUpDB(ctx, conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		defer func() {
			if err = db.Close(); err != nil {
				dbLogger.Error("failed to close", err)
			}
		}()
		repos = di.NewBoiledRepositories(db)
	}

	// set up services
	var telegram workflow.Sender
	if conf.TelegramToken != "" {
		sender, err := telegramsvc.New(conf.TelegramToken)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up telegram: %v", err), err)
		}
		telegram = sender
	}

	c := di.New(di.Options{
		Conf:     conf,
		Logger:   logger,
		Repos:    repos,
		MailSvc:  di.NewEmailService(conf, logger),
		Telegram: telegram,
	})

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	core.ParseEmailTemplates(logger, appfs.EmailTemplates(), conf)
	if conf.Env == "DEV" {
		dir := filepath.Join(conf.WorkDir, "fs", appfs.EmailTemplatesDir)
		go func() {
			if err := core.WatchEmailTemplates(ctx, logger, dir, conf); err != nil {
				logger.Warn(fmt.Sprintf("email templates will not be reloaded: %v", err))
			}
		}()
	}

	user.LoadCommonPasswords(logger, appfs.FS, appfs.CommonPasswordsGZ)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Scheduler

	var sched *schedulersvc.Scheduler
	if conf.Scheduler.Enabled {
		var err error
		sched, err = schedulersvc.New(logger, conf.Scheduler.Timezone, schedulersvc.CampusJobs(logger, c.Workflows, c.Worker, c.Sessions)...)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up scheduler: %v", err), err)
		}
		sched.Start(ctx)
	}

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:             conf,
			Logger:           logger,
			Validate:         c.Validate,
			Translator:       c.Translator,
			OrgSvc:           c.Orgs,
			UserSvc:          c.Users,
			CourseSvc:        c.Courses,
			SessionSvc:       c.Sessions,
			QuestionnaireSvc: c.Questionnaires,
			ConversationSvc:  c.Conversations,
			NotificationSvc:  c.Notifications,
			WorkflowSvc:      c.Workflows,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancelShutdown()

		if sched != nil {
			if err := sched.Stop(shutdownCtx); err != nil {
				logger.Error(fmt.Sprintf("could not stop scheduler gracefully: %v", err), err)
			}
		}

		// asking listener to shutdown and shed load
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}
