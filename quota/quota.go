// Package quota meters runs per user with a fixed window counter.
//
// Each run consumes Cost points. A user may consume up to Points within a
// window that opens on first use and lasts Window; the counter resets when
// the window closes.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nevindra/vybe"
)

// Defaults for the free tier.
const (
	DefaultPoints = 5
	DefaultWindow = 30 * 24 * time.Hour
	DefaultCost   = 1
)

// ErrExhausted matches every *ExhaustedError via errors.Is.
var ErrExhausted = errors.New("quota exhausted")

// ExhaustedError reports that a key has no points left in its window.
type ExhaustedError struct {
	Key     string
	ResetIn time.Duration
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("quota exhausted for %s, resets in %s", e.Key, e.ResetIn.Round(time.Second))
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Store is the subset of vybe.Store the tracker needs.
type Store interface {
	ConsumeUsage(ctx context.Context, key string, points int, window time.Duration) (vybe.QuotaUsage, error)
	GetUsage(ctx context.Context, key string) (vybe.QuotaUsage, error)
}

// Status is a key's remaining allowance.
type Status struct {
	Consumed  int           `json:"consumed"`
	Remaining int           `json:"remaining"`
	Limit     int           `json:"limit"`
	ResetIn   time.Duration `json:"reset_in"`
}

// Tracker enforces the per-key limit.
type Tracker struct {
	store  Store
	points int
	window time.Duration
	cost   int
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithPoints(n int) Option           { return func(t *Tracker) { t.points = n } }
func WithWindow(d time.Duration) Option { return func(t *Tracker) { t.window = d } }
func WithCost(n int) Option             { return func(t *Tracker) { t.cost = n } }

// NewTracker returns a Tracker with the free-tier defaults.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		points: DefaultPoints,
		window: DefaultWindow,
		cost:   DefaultCost,
		now:    time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Consume charges one run to key. When the charge pushes the counter past
// the limit it returns *ExhaustedError; the overdraft stays recorded until
// the window resets, so every later call fails too.
func (t *Tracker) Consume(ctx context.Context, key string) (Status, error) {
	u, err := t.store.ConsumeUsage(ctx, key, t.cost, t.window)
	if err != nil {
		return Status{}, fmt.Errorf("consume usage: %w", err)
	}
	st := t.status(u)
	if u.Points > t.points {
		return st, &ExhaustedError{Key: key, ResetIn: st.ResetIn}
	}
	return st, nil
}

// Status returns key's allowance without consuming any points.
func (t *Tracker) Status(ctx context.Context, key string) (Status, error) {
	u, err := t.store.GetUsage(ctx, key)
	if err != nil {
		return Status{}, fmt.Errorf("get usage: %w", err)
	}
	return t.status(u), nil
}

func (t *Tracker) status(u vybe.QuotaUsage) Status {
	st := Status{
		Consumed:  u.Points,
		Remaining: max(t.points-u.Points, 0),
		Limit:     t.points,
	}
	if u.ExpireAt > 0 {
		st.ResetIn = max(time.UnixMilli(u.ExpireAt).Sub(t.now()), 0)
	}
	return st
}
