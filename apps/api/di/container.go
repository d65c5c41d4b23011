// Package di builds the application's services out of a set of repositories.
package di

import (
	"context"
	"database/sql"
	"fmt"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/conversation"
	"github.com/trezcool/campus/core/course"
	"github.com/trezcool/campus/core/directory"
	"github.com/trezcool/campus/core/notification"
	"github.com/trezcool/campus/core/organization"
	"github.com/trezcool/campus/core/questionnaire"
	"github.com/trezcool/campus/core/recurrence"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/core/workflow"
	"github.com/trezcool/campus/core/workflow/channels"
	emailsvc "github.com/trezcool/campus/services/email"
	"github.com/trezcool/campus/storage/database"
	inmemdb "github.com/trezcool/campus/storage/database/inmem"
	boiledrepos "github.com/trezcool/campus/storage/database/sqlboiler"
)

// Repositories holds one implementation of every repository, plus the matching Transactor.
type Repositories struct {
	Tx             core.Transactor
	Orgs           organization.Repository
	Users          user.Repository
	Courses        course.Repository
	Sessions       session.Repository
	Questionnaires questionnaire.Repository
	Conversations  conversation.Repository
	Notifications  notification.Repository
	Workflows      workflow.Repository
}

func NewBoiledRepositories(db *sql.DB) Repositories {
	return Repositories{
		Tx:             boiledrepos.NewTransactor(db),
		Orgs:           boiledrepos.NewOrganizationRepository(db),
		Users:          boiledrepos.NewUserRepository(db),
		Courses:        boiledrepos.NewCourseRepository(db),
		Sessions:       boiledrepos.NewSessionRepository(db),
		Questionnaires: boiledrepos.NewQuestionnaireRepository(db),
		Conversations:  boiledrepos.NewConversationRepository(db),
		Notifications:  boiledrepos.NewNotificationRepository(db),
		Workflows:      boiledrepos.NewWorkflowRepository(db),
	}
}

func NewInMemRepositories(db *inmemdb.DB) Repositories {
	return Repositories{
		Tx:             db,
		Orgs:           inmemdb.NewOrganizationRepository(db),
		Users:          inmemdb.NewUserRepository(db),
		Courses:        inmemdb.NewCourseRepository(db),
		Sessions:       inmemdb.NewSessionRepository(db),
		Questionnaires: inmemdb.NewQuestionnaireRepository(db),
		Conversations:  inmemdb.NewConversationRepository(db),
		Notifications:  inmemdb.NewNotificationRepository(db),
		Workflows:      inmemdb.NewWorkflowRepository(db),
	}
}

// SetUpDB creates the database if needed, opens it and applies the migrations.
func SetUpDB(ctx context.Context, conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewEmailService prints e-mails in debug and sends them through SendGrid otherwise.
func NewEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

type (
	Options struct {
		Conf    *core.Config
		Logger  core.Logger
		Repos   Repositories
		MailSvc core.EmailService

		// Telegram is the sender of the telegram channel, if any.
		Telegram workflow.Sender

		// SyncDelivery sends the deliveries as soon as they are enqueued. Meant for tests.
		SyncDelivery bool
	}

	Container struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		MailSvc    core.EmailService

		Orgs           *organization.Service
		Users          *user.Service
		Courses        *course.Service
		Sessions       *session.Service
		Questionnaires *questionnaire.Service
		Conversations  *conversation.Service
		Notifications  *notification.Service
		Workflows      *workflow.Service
		Worker         *workflow.Worker
	}
)

// New wires the services together: every domain service publishes its events to the workflow engine.
func New(opts Options) *Container {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	recurrence.InitValidators(validate, translator)
	workflow.InitValidators(validate, translator)

	repos, conf, logger := opts.Repos, opts.Conf, opts.Logger

	orgSvc := organization.NewService(repos.Orgs)
	usrSvc := user.NewService(repos.Users, opts.MailSvc, conf)
	courseSvc := course.NewService(repos.Tx, repos.Courses, usrSvc, logger)
	sessionSvc := session.NewService(repos.Tx, repos.Sessions, courseSvc, orgSvc, logger, conf)
	questionnaireSvc := questionnaire.NewService(repos.Questionnaires, courseSvc, logger)
	conversationSvc := conversation.NewService(repos.Tx, repos.Conversations, usrSvc, logger)
	notifSvc := notification.NewService(repos.Notifications)

	dir := directory.New(usrSvc, courseSvc, sessionSvc)
	wfSvc := workflow.NewService(repos.Workflows, dir, logger)

	senders := map[string]workflow.Sender{
		workflow.ChannelEmail: channels.NewEmail(opts.MailSvc),
		workflow.ChannelInApp: channels.NewInApp(notifSvc),
	}
	if opts.Telegram != nil {
		senders[workflow.ChannelTelegram] = opts.Telegram
	}
	worker := workflow.NewWorker(repos.Workflows, dir, senders, logger, workflow.NewWorkerConfig(conf.Scheduler))
	if opts.SyncDelivery {
		wfSvc.EnableSyncDelivery(worker)
	}

	courseSvc.SetPublisher(wfSvc)
	sessionSvc.SetPublisher(wfSvc)
	questionnaireSvc.SetPublisher(wfSvc)
	conversationSvc.SetPublisher(wfSvc)

	logger.Debug(fmt.Sprintf("channels: %d senders wired", len(senders)))

	return &Container{
		Conf:           conf,
		Logger:         logger,
		Validate:       validate,
		Translator:     translator,
		MailSvc:        opts.MailSvc,
		Orgs:           orgSvc,
		Users:          usrSvc,
		Courses:        courseSvc,
		Sessions:       sessionSvc,
		Questionnaires: questionnaireSvc,
		Conversations:  conversationSvc,
		Notifications:  notifSvc,
		Workflows:      wfSvc,
		Worker:         worker,
	}
}
