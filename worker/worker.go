// Package worker drains the job queue: a pool of goroutines claims pending
// jobs, runs each through the code agent and settles the job according to
// how the run ended.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/codeagent"
	"github.com/nevindra/vybe/durable"
	"github.com/nevindra/vybe/sandbox"
)

// ErrorContent is the message persisted when a job is given up.
const ErrorContent = "Something went wrong. Please try again."

// errLeaseLost cancels a run whose job was claimed by someone else.
var errLeaseLost = errors.New("worker: job lease lost")

// Queue is the job and message persistence the pool needs. vybe.Store
// implementations satisfy it.
type Queue interface {
	ClaimJob(ctx context.Context, worker string, lease time.Duration) (vybe.Job, bool, error)
	CompleteJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string, generation int, availableAt int64, lastErr string) error
	FailJob(ctx context.Context, id string, lastErr string) error
	// ExtendJob pushes the lease of a running job forward. It fails with
	// vybe.ErrNotFound once the claim identified by attempt is no longer held.
	ExtendJob(ctx context.Context, id string, attempt int, lease time.Duration) error
	CreateMessage(ctx context.Context, m vybe.Message) error
}

// Runner executes one job. *codeagent.Runner implements it.
type Runner interface {
	Run(ctx context.Context, job vybe.Job) (codeagent.Report, error)
}

var _ Runner = (*codeagent.Runner)(nil)

// Settlement is how a finished attempt left its job.
type Settlement string

const (
	Succeeded  Settlement = "succeeded"
	RetryLater Settlement = "retry"      // same generation, after a delay
	NewSandbox Settlement = "regenerate" // next generation, fresh sandbox
	GaveUp     Settlement = "failed"
	Abandoned  Settlement = "abandoned" // lease lost, left to the new holder
)

// RunHook is called after each attempt, whatever its outcome.
type RunHook func(job vybe.Job, report codeagent.Report, s Settlement, err error, d time.Duration)

// Pool runs jobs with a fixed number of goroutines.
type Pool struct {
	queue        Queue
	runner       Runner
	id           string
	workers      int
	poll         time.Duration
	lease        time.Duration
	maxAttempts  int
	backoff      time.Duration
	maxBackoff   time.Duration
	inFlightWait time.Duration
	regenerate   bool
	onRun        RunHook
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of concurrent jobs. Default: 2.
func WithWorkers(n int) Option { return func(p *Pool) { p.workers = n } }

// WithPollInterval sets how long an idle worker waits before claiming again.
func WithPollInterval(d time.Duration) Option { return func(p *Pool) { p.poll = d } }

// WithJobLease sets how long a claimed job stays locked to this pool.
func WithJobLease(d time.Duration) Option { return func(p *Pool) { p.lease = d } }

// WithMaxAttempts sets the attempts after which a job is given up.
func WithMaxAttempts(n int) Option { return func(p *Pool) { p.maxAttempts = n } }

// WithBackoff sets the first retry delay and its cap. The delay doubles per
// attempt.
func WithBackoff(base, limit time.Duration) Option {
	return func(p *Pool) { p.backoff, p.maxBackoff = base, limit }
}

// WithInFlightWait sets the delay before retrying a job whose step is held
// by another executor.
func WithInFlightWait(d time.Duration) Option { return func(p *Pool) { p.inFlightWait = d } }

// WithRegenerateOnSandboxLoss retries a run whose sandbox could not be
// provisioned or expired under the next generation, with a fresh sandbox.
// Without it such a job is given up and an ERROR message persisted, so the
// user resubmits.
func WithRegenerateOnSandboxLoss(on bool) Option { return func(p *Pool) { p.regenerate = on } }

// WithID sets the worker id recorded on claimed jobs.
func WithID(id string) Option { return func(p *Pool) { p.id = id } }

// WithOnRun registers a hook called after each attempt.
func WithOnRun(h RunHook) Option { return func(p *Pool) { p.onRun = h } }

func WithLogger(l *slog.Logger) Option { return func(p *Pool) { p.logger = l } }

// New creates a Pool.
func New(queue Queue, runner Runner, opts ...Option) *Pool {
	p := &Pool{
		queue:        queue,
		runner:       runner,
		id:           "worker-" + vybe.NewID(),
		workers:      2,
		poll:         time.Second,
		lease:        15 * time.Minute,
		maxAttempts:  3,
		backoff:      5 * time.Second,
		maxBackoff:   5 * time.Minute,
		inFlightWait: 30 * time.Second,
		logger:       nopLogger,
		now:          time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	return p
}

// Start runs the workers until ctx is cancelled. Returns nil on clean
// shutdown.
func (p *Pool) Start(ctx context.Context) error {
	p.logger.Info("worker pool started", "worker", p.id, "workers", p.workers)
	var wg sync.WaitGroup
	for range p.workers {
		wg.Go(func() { p.loop(ctx) })
	}
	wg.Wait()
	p.logger.Info("worker pool stopped", "worker", p.id)
	return nil
}

func (p *Pool) loop(ctx context.Context) {
	for {
		ran, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("claim job failed", "worker", p.id, "error", err)
		}
		if ran {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.poll):
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was
// claimed.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	job, ok, err := p.queue.ClaimJob(ctx, p.id, p.lease)
	if err != nil || !ok {
		return false, err
	}
	p.process(ctx, job)
	return true, nil
}

func (p *Pool) process(ctx context.Context, job vybe.Job) {
	logger := p.logger.With("job_id", job.ID, "run_id", job.RunID(), "attempt", job.Attempts)
	logger.Info("job claimed")

	runCtx, cancel := context.WithCancelCause(ctx)
	stop := p.heartbeat(runCtx, cancel, logger, job)
	start := p.now()
	report, err := p.runner.Run(runCtx, job)
	d := p.now().Sub(start)
	stop()
	lost := errors.Is(context.Cause(runCtx), errLeaseLost)
	cancel(nil)

	if lost {
		logger.Warn("job lease lost, abandoning attempt", "error", err)
		if p.onRun != nil {
			p.onRun(job, report, Abandoned, err, d)
		}
		return
	}

	// Settle on a context that survives shutdown so the lease is released.
	sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer scancel()

	var s Settlement
	switch {
	case err == nil:
		s = Succeeded
		if cerr := p.queue.CompleteJob(sctx, job.ID); cerr != nil {
			logger.Error("complete job failed", "error", cerr)
		}
	case ctx.Err() != nil:
		s = RetryLater
		p.retry(sctx, logger, job, job.Generation, p.now(), err)
	default:
		s = p.settleFailure(sctx, logger, job, err)
	}

	if s == Succeeded {
		logger.Info("job succeeded", "duration", d, "failed_outcome", report.Failed())
	}
	if p.onRun != nil {
		p.onRun(job, report, s, err, d)
	}
}

// heartbeat extends the job lease every lease/3 while the run is in
// progress. Losing the claim cancels the run with errLeaseLost.
func (p *Pool) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, logger *slog.Logger, job vybe.Job) func() {
	interval := p.lease / 3
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				err := p.queue.ExtendJob(ctx, job.ID, job.Attempts, p.lease)
				switch {
				case err == nil:
				case errors.Is(err, vybe.ErrNotFound):
					cancel(errLeaseLost)
					return
				default:
					logger.Warn("extend job lease failed", "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (p *Pool) settleFailure(ctx context.Context, logger *slog.Logger, job vybe.Job, err error) Settlement {
	if errors.Is(err, durable.ErrStepInFlight) {
		logger.Warn("run held by another executor", "error", err)
		p.retry(ctx, logger, job, job.Generation, p.now().Add(p.inFlightWait), err)
		return RetryLater
	}

	lifecycle := sandbox.IsLifecycle(err)
	if job.Attempts >= p.maxAttempts || (lifecycle && !p.regenerate) {
		logger.Error("job failed permanently", "error", err)
		if ferr := p.queue.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			logger.Error("fail job failed", "error", ferr)
		}
		m := vybe.Message{
			ID:        vybe.NewID(),
			ProjectID: job.ProjectID,
			Role:      vybe.RoleAssistant,
			Kind:      vybe.KindError,
			Content:   ErrorContent,
			CreatedAt: vybe.NowUnix(),
		}
		if merr := p.queue.CreateMessage(ctx, m); merr != nil {
			logger.Error("save error message failed", "error", merr)
		}
		return GaveUp
	}

	at := p.now().Add(Backoff(p.backoff, p.maxBackoff, job.Attempts))
	if lifecycle {
		logger.Warn("sandbox lost, retrying with a fresh sandbox", "error", err)
		p.retry(ctx, logger, job, job.Generation+1, at, err)
		return NewSandbox
	}
	logger.Warn("run failed, retrying", "error", err, "retry_at", at)
	p.retry(ctx, logger, job, job.Generation, at, err)
	return RetryLater
}

func (p *Pool) retry(ctx context.Context, logger *slog.Logger, job vybe.Job, generation int, at time.Time, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.queue.RetryJob(ctx, job.ID, generation, at.UnixMilli(), msg); err != nil {
		logger.Error("retry job failed", "error", err)
	}
}

// Backoff returns base doubled attempt-1 times, capped at limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}
