// Package schedulersvc runs the periodic jobs: firing time-based workflows,
// draining the delivery queue and extending the session horizon.
package schedulersvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/campus/core"
)

// Default job schedules (with seconds).
const (
	FireDueSpec       = "0 * * * * *"
	DrainSpec         = "*/15 * * * * *"
	ExtendHorizonSpec = "0 0 2 * * *"
)

// Job is a named unit of periodic work.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

type Scheduler struct {
	cron   *cron.Cron
	logger core.Logger
	jobs   []Job

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New returns a scheduler running jobs on the wall clock of timezone.
func New(logger core.Logger, timezone string, jobs ...Job) (*Scheduler, error) {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(logger, "logger"),
	).Check(); err != nil {
		return nil, err
	}
	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, errors.Wrap(err, "loading scheduler time zone")
		}
	}

	s := &Scheduler{logger: logger}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	for _, j := range jobs {
		if err := s.add(j); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(j Job) error {
	job := j
	_, err := s.cron.AddFunc(job.Spec, func() { s.run(job) })
	if err != nil {
		return errors.Wrapf(err, "scheduling %s (%s)", job.Name, job.Spec)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *Scheduler) run(j Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := j.Run(ctx); err != nil && errors.Cause(err) != context.Canceled {
		s.logger.Error(fmt.Sprintf("scheduler: %s failed: %v", j.Name, err), err)
		return
	}
	s.logger.Debug(fmt.Sprintf("scheduler: %s done in %s", j.Name, time.Since(start)))
}

// Jobs returns the scheduled jobs.
func (s *Scheduler) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// Start starts running the jobs in the background. Jobs receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.Start()
	s.logger.Info(fmt.Sprintf("scheduler started: %d jobs (%s)", len(s.jobs), s.cron.Location()))
}

// Stop stops scheduling jobs, cancels the running ones and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for scheduler jobs")
	}
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvMap(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvMap(keysAndValues))
}

func kvMap(kvs []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		m[fmt.Sprint(kvs[i])] = kvs[i+1]
	}
	return m
}
