package logsvc

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"github.com/rs/zerolog"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

// RollbarLogger reports to Rollbar and writes every entry to a zerolog console logger.
type RollbarLogger struct {
	zl      zerolog.Logger
	rollbar bool
	exit    func(int)
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewRollbarLogger returns a logger tagged with component ("API", "DB", ...).
// Entries are human-readable in debug and JSON otherwise.
func NewRollbarLogger(w io.Writer, component string, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)

	if w == nil {
		w = os.Stdout
	}
	level := zerolog.InfoLevel
	if conf.Debug {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02T15:04:05.000Z07:00"}
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(w).Level(level).With().Timestamp().Str("component", component).Logger()
	return &RollbarLogger{zl: zl, exit: os.Exit}
}

// NewNopLogger returns a logger that discards everything. Meant for tests.
func NewNopLogger() *RollbarLogger {
	return &RollbarLogger{zl: zerolog.Nop(), exit: os.Exit}
}

// Enable turns reporting to Rollbar on or off. The console output is always on.
func (l *RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled && rollbar.Token() != "")
	l.rollbar = enabled
}

// Close waits for the pending Rollbar reports.
func (l *RollbarLogger) Close(timeout time.Duration) {
	if l.rollbar {
		rollbar.SetEnabled(false)
		done := make(chan struct{})
		go func() {
			rollbar.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
		}
	}
}

// expected args: error, map[string]interface{}, user.User
func (l *RollbarLogger) report(level string, msg string, args []interface{}) {
	if !l.rollbar {
		return
	}
	var usrSet bool
	rbArgs := make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	for _, arg := range args {
		if usr, ok := arg.(user.User); ok {
			if !usrSet { // only set one User
				rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
				usrSet = true
			}
			continue
		}
		rbArgs = append(rbArgs, arg)
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	rollbar.Log(level, rbArgs...)
}

func (l *RollbarLogger) write(evt *zerolog.Event, msg string, args []interface{}) {
	for _, arg := range args {
		switch v := arg.(type) {
		case error:
			evt = evt.Err(v)
		case map[string]interface{}:
			evt = evt.Fields(v)
		case user.User:
			evt = evt.Str("user_id", v.ID).Str("org_id", v.OrganizationID)
		case nil:
		default:
			evt = evt.Str("extra", fmt.Sprintf("%+v", v))
		}
	}
	evt.Msg(msg)
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	l.report(rollbar.DEBUG, msg, args)
	l.write(l.zl.Debug(), msg, args)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	l.report(rollbar.INFO, msg, args)
	l.write(l.zl.Info(), msg, args)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	l.report(rollbar.WARN, msg, args)
	l.write(l.zl.Warn(), msg, args)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	l.report(rollbar.ERR, msg, args)
	l.write(l.zl.Error(), msg, args)
}

// Fatal logs then exits the process.
func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.report(rollbar.CRIT, msg, args)
	l.write(l.zl.WithLevel(zerolog.FatalLevel), msg, args)
	l.Close(5 * time.Second)
	l.exit(1)
}
