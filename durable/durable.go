// Package durable memoizes side-effecting steps of a run so that a retried or
// resumed run returns the stored result of every step that already completed
// instead of executing it again.
//
// A step is identified by (run id, step name). Executing a step first claims
// it in the Store with an atomic insert-if-absent; only the claim holder runs
// the operation, and only a successful operation leaves a completed record.
// A failed operation releases its claim, so the step runs again on the next
// attempt.
//
//	ex := durable.New(store, job.RunID())
//	ctx = durable.WithExecutor(ctx, ex)
//	handle, err := durable.Step(ctx, "get-sandbox-id", func(ctx context.Context) (sandbox.Handle, error) {
//		return sb.Create(ctx, template)
//	})
//
// Step names nest: the context passed to an operation carries the step's full
// name, and steps started with that context are named "outer/inner".
package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrStepInFlight is returned when another live executor holds the claim
	// on a step. The operation was not invoked.
	ErrStepInFlight = errors.New("durable: step in flight")
	// ErrClaimLost is returned when the claim expired and moved to another
	// executor while the operation was running.
	ErrClaimLost = errors.New("durable: claim lost")
)

// StepRecord is the stored state of one step. Times are unix milliseconds.
type StepRecord struct {
	RunID       string          `json:"run_id"`
	Name        string          `json:"name"`
	Owner       string          `json:"owner"`
	Result      json.RawMessage `json:"result,omitempty"`
	ClaimedAt   int64           `json:"claimed_at"`
	CompletedAt int64           `json:"completed_at,omitempty"`
}

// Completed reports whether the step finished and its result is final.
func (r StepRecord) Completed() bool { return r.CompletedAt != 0 }

// Store persists step records. Implementations must make ClaimStep atomic
// with respect to concurrent callers for the same (runID, name).
type Store interface {
	// ClaimStep inserts a pending record owned by owner if none exists.
	// An existing completed record is returned unchanged. An existing pending
	// record moves to owner when owner already holds it (refreshing the
	// lease) or its lease has expired; otherwise ErrStepInFlight.
	ClaimStep(ctx context.Context, runID, name, owner string, lease time.Duration) (StepRecord, error)
	// CompleteStep stores result on the pending record held by owner. If the
	// record is already completed, the stored record is returned and result
	// is discarded. If owner no longer holds the claim, ErrClaimLost.
	CompleteStep(ctx context.Context, runID, name, owner string, result []byte) (StepRecord, error)
	// ReleaseStep removes the pending record held by owner. Completed records
	// are never removed.
	ReleaseStep(ctx context.Context, runID, name, owner string) error
	// ListSteps returns the records of a run ordered by claim time.
	ListSteps(ctx context.Context, runID string) ([]StepRecord, error)
}

// StepEvent describes one finished Step call.
type StepEvent struct {
	RunID    string
	Name     string
	Replayed bool // result came from a completed record
	Duration time.Duration
	Err      error
}

// Hooks observes step execution. The observer package implements it.
type Hooks interface {
	StepFinished(ctx context.Context, ev StepEvent)
}

const defaultLease = 10 * time.Minute

// Executor runs the steps of one run against a Store.
type Executor struct {
	store  Store
	runID  string
	owner  string
	lease  time.Duration
	hooks  Hooks
	logger *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithOwner sets the claim owner id. Defaults to a random id per Executor.
func WithOwner(owner string) Option {
	return func(e *Executor) { e.owner = owner }
}

// WithLease sets how long a claim stays valid without renewal (default 10m).
// Claims are renewed every lease/3 while the operation runs.
func WithLease(d time.Duration) Option {
	return func(e *Executor) { e.lease = d }
}

func WithHooks(h Hooks) Option {
	return func(e *Executor) { e.hooks = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor for runID.
func New(store Store, runID string, opts ...Option) *Executor {
	e := &Executor{
		store: store,
		runID: runID,
		lease: defaultLease,
	}
	for _, o := range opts {
		o(e)
	}
	if e.owner == "" {
		e.owner = newOwnerID()
	}
	if e.logger == nil {
		e.logger = nopLogger
	}
	return e
}

// RunID returns the run this executor records steps for.
func (e *Executor) RunID() string { return e.runID }

// Owner returns the claim owner id.
func (e *Executor) Owner() string { return e.owner }

type executorKey struct{}
type scopeKey struct{}

// WithExecutor returns a context whose steps are memoized by ex.
func WithExecutor(ctx context.Context, ex *Executor) context.Context {
	return context.WithValue(ctx, executorKey{}, ex)
}

// FromContext returns the executor carried by ctx, or nil.
func FromContext(ctx context.Context) *Executor {
	ex, _ := ctx.Value(executorKey{}).(*Executor)
	return ex
}

// Scope returns the full name of the step ctx is running inside, or "".
func Scope(ctx context.Context) string {
	s, _ := ctx.Value(scopeKey{}).(string)
	return s
}

// WithScope prefixes the names of steps started from the returned context.
func WithScope(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, scopeKey{}, joinName(Scope(ctx), name))
}

func joinName(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "/" + name
}

// Step runs op at most once per run under name and returns its result. When
// a completed record exists, op is not invoked and the stored result is
// decoded into T. T must round-trip through encoding/json.
//
// Without an executor in ctx, op runs directly.
func Step[T any](ctx context.Context, name string, op func(context.Context) (T, error)) (T, error) {
	full := joinName(Scope(ctx), name)
	inner := context.WithValue(ctx, scopeKey{}, full)
	ex := FromContext(ctx)
	if ex == nil {
		return op(inner)
	}

	start := time.Now()
	v, replayed, err := run(ctx, inner, ex, full, op)
	if ex.hooks != nil {
		ex.hooks.StepFinished(ctx, StepEvent{
			RunID:    ex.runID,
			Name:     full,
			Replayed: replayed,
			Duration: time.Since(start),
			Err:      err,
		})
	}
	return v, err
}

func run[T any](ctx, inner context.Context, ex *Executor, name string, op func(context.Context) (T, error)) (T, bool, error) {
	var zero T

	rec, err := ex.store.ClaimStep(ctx, ex.runID, name, ex.owner, ex.lease)
	if err != nil {
		if errors.Is(err, ErrStepInFlight) {
			ex.logger.Warn("step held by another executor", "run_id", ex.runID, "step", name)
		}
		return zero, false, fmt.Errorf("claim step %q: %w", name, err)
	}
	if rec.Completed() {
		v, err := decode[T](rec)
		if err != nil {
			return zero, true, fmt.Errorf("replay step %q: %w", name, err)
		}
		ex.logger.Debug("step replayed", "run_id", ex.runID, "step", name)
		return v, true, nil
	}

	stop := ex.renew(ctx, name)
	v, opErr := op(inner)
	stop()

	if opErr != nil {
		// Release on a fresh context so a cancelled run still frees the claim.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := ex.store.ReleaseStep(rctx, ex.runID, name, ex.owner); err != nil {
			ex.logger.Warn("release step failed", "run_id", ex.runID, "step", name, "error", err)
		}
		return zero, false, opErr
	}

	data, err := json.Marshal(v)
	if err != nil {
		return zero, false, fmt.Errorf("encode step %q: %w", name, err)
	}
	stored, err := ex.store.CompleteStep(ctx, ex.runID, name, ex.owner, data)
	if err != nil {
		return zero, false, fmt.Errorf("complete step %q: %w", name, err)
	}
	if stored.Owner != ex.owner {
		// Another executor completed first; its record is authoritative.
		v, err := decode[T](stored)
		if err != nil {
			return zero, false, fmt.Errorf("replay step %q: %w", name, err)
		}
		return v, true, nil
	}
	ex.logger.Debug("step completed", "run_id", ex.runID, "step", name)
	return v, false, nil
}

// renew refreshes the claim every lease/3 until the returned func is called.
func (e *Executor) renew(ctx context.Context, name string) func() {
	interval := e.lease / 3
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
				if _, err := e.store.ClaimStep(ctx, e.runID, name, e.owner, e.lease); err != nil {
					e.logger.Warn("renew step claim failed", "run_id", e.runID, "step", name, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func decode[T any](rec StepRecord) (T, error) {
	var v T
	if len(rec.Result) == 0 {
		return v, nil
	}
	err := json.Unmarshal(rec.Result, &v)
	return v, err
}
