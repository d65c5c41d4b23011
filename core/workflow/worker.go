package workflow

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/user"
)

// maxDrainBatches bounds the number of batches claimed by a single Drain.
const maxDrainBatches = 100

// errThrottled is returned when the limiter cannot grant a send before the context deadline.
var errThrottled = errors.New("delivery rate exceeded")

type (
	// Sender delivers a rendered message to a user through one channel.
	Sender interface {
		Send(ctx context.Context, d Delivery, to user.User) error
	}

	// PermanentError marks a send failure that retrying cannot fix.
	PermanentError struct {
		Err error
	}

	WorkerConfig struct {
		Workers     int
		BatchSize   int
		MaxAttempts int
		RetryBase   time.Duration
		RetryMax    time.Duration
		Lease       time.Duration
		RatePerSec  float64
	}

	// Worker sends queued deliveries.
	Worker struct {
		repo    Repository
		dir     Directory
		senders map[string]Sender
		limiter *rate.Limiter
		conf    WorkerConfig
		logger  core.Logger
		now     func() time.Time
		jitter  func() float64 // in [0, 1)

		mu sync.Mutex
	}

	// DrainResult counts the outcomes of a Drain.
	DrainResult struct {
		Sent   int
		Failed int
		Dead   int
	}
)

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Cause() error { return e.Err }

func IsPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}

// NewWorkerConfig reads the worker settings from the scheduler config.
func NewWorkerConfig(conf core.SchedulerConfig) WorkerConfig {
	return WorkerConfig{
		Workers:     conf.DeliveryWorkers,
		BatchSize:   conf.DeliveryBatchSize,
		MaxAttempts: conf.DeliveryMaxAttempts,
		RetryBase:   conf.DeliveryRetryBase,
		RetryMax:    conf.DeliveryRetryMaxDelay,
		Lease:       conf.DeliveryLease,
		RatePerSec:  conf.DeliveryRatePerSec,
	}
}

func NewWorker(repo Repository, dir Directory, senders map[string]Sender, logger core.Logger, conf WorkerConfig) *Worker {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(dir, "dir"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()

	if conf.Workers < 1 {
		conf.Workers = 1
	}
	if conf.BatchSize < 1 {
		conf.BatchSize = 50
	}
	if conf.MaxAttempts < 1 {
		conf.MaxAttempts = 1
	}
	if conf.RetryBase <= 0 {
		conf.RetryBase = 30 * time.Second
	}
	if conf.RetryMax < conf.RetryBase {
		conf.RetryMax = conf.RetryBase
	}
	if conf.Lease <= 0 {
		conf.Lease = 2 * time.Minute
	}

	limit, burst := rate.Inf, 1
	if conf.RatePerSec > 0 {
		limit = rate.Limit(conf.RatePerSec)
		if b := int(conf.RatePerSec); b > burst {
			burst = b
		}
	}

	return &Worker{
		repo:    repo,
		dir:     dir,
		senders: senders,
		limiter: rate.NewLimiter(limit, burst),
		conf:    conf,
		logger:  logger,
		now:     time.Now,
		jitter:  rand.Float64,
	}
}

// Backoff returns the delay before the attempt following the n-th failed one:
// RetryBase * 2^(n-1), capped at RetryMax, plus up to half of that again as jitter.
func (w *Worker) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(w.conf.RetryBase) * math.Pow(2, float64(n-1))
	if d > float64(w.conf.RetryMax) {
		d = float64(w.conf.RetryMax)
	}
	return time.Duration(d + w.jitter()*d/2)
}

// Drain sends due deliveries until none is left, or the context is done.
// Concurrent calls are serialized.
func (w *Worker) Drain(ctx context.Context) (DrainResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var res DrainResult
	for i := 0; i < maxDrainBatches; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, err := w.repo.ClaimDueDeliveries(ctx, w.now().UTC(), w.conf.BatchSize, w.conf.Lease)
		if err != nil {
			return res, errors.Wrap(err, "claiming deliveries")
		}
		if len(batch) == 0 {
			return res, nil
		}
		w.sendBatch(ctx, batch, &res)
	}
	return res, nil
}

func (w *Worker) sendBatch(ctx context.Context, batch []Delivery, res *DrainResult) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		jobs = make(chan Delivery)
	)
	for i := 0; i < w.conf.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				status := w.process(ctx, d)
				mu.Lock()
				switch status {
				case StatusSent:
					res.Sent++
				case StatusFailed:
					res.Failed++
				case StatusDead:
					res.Dead++
				}
				mu.Unlock()
			}
		}()
	}
	for _, d := range batch {
		jobs <- d
	}
	close(jobs)
	wg.Wait()
}

// process sends d and records the outcome. It returns d's new status.
func (w *Worker) process(ctx context.Context, d Delivery) string {
	sendErr := w.send(ctx, d)
	now := w.now().UTC()
	d.Attempts++
	d.LockedUntil = nil
	d.UpdatedAt = now

	switch {
	case sendErr == nil:
		d.Status = StatusSent
		d.SentAt = &now
		d.LastError = ""
	case errors.Cause(sendErr) == errThrottled:
		// not the recipient's fault: give the attempt back
		d.Attempts--
		d.Status = StatusFailed
		d.NextAttemptAt = now.Add(w.tokenInterval())
		d.LastError = sendErr.Error()
	case ctx.Err() != nil || errors.Cause(sendErr) == context.Canceled || errors.Cause(sendErr) == context.DeadlineExceeded:
		d.Attempts--
		d.Status = StatusFailed
		d.NextAttemptAt = now
		d.LastError = sendErr.Error()
	case IsPermanent(sendErr) || d.Attempts >= w.conf.MaxAttempts:
		d.Status = StatusDead
		d.LastError = sendErr.Error()
	default:
		d.Status = StatusFailed
		d.NextAttemptAt = now.Add(w.Backoff(d.Attempts))
		d.LastError = sendErr.Error()
	}

	// the outcome must be recorded even if ctx is done
	if _, err := w.repo.UpdateDelivery(context.Background(), d); err != nil {
		w.logger.Error("updating delivery", err, map[string]interface{}{"delivery": d.ID})
	}
	if sendErr != nil && d.Status == StatusDead {
		w.logger.Warn("delivery dead", sendErr, map[string]interface{}{"delivery": d.ID, "channel": d.Channel, "attempts": d.Attempts})
	}
	return d.Status
}

func (w *Worker) send(ctx context.Context, d Delivery) error {
	sender, ok := w.senders[d.Channel]
	if !ok {
		return Permanent(errors.Errorf("no sender for channel %q", d.Channel))
	}
	users, err := w.dir.ListUsers(ctx, d.OrganizationID, []string{d.RecipientID})
	if err != nil {
		return errors.Wrap(err, "getting recipient")
	}
	if len(users) == 0 || !users[0].IsActive {
		return Permanent(errors.New("recipient not found or inactive"))
	}
	if err = w.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.Wrap(errThrottled, err.Error())
	}
	return sender.Send(ctx, d, users[0])
}

// tokenInterval is the time the limiter needs to grant one more send.
func (w *Worker) tokenInterval() time.Duration {
	limit := w.limiter.Limit()
	if limit == rate.Inf || limit <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(limit))
}
