package vybe

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store lookups for a missing record.
var ErrNotFound = errors.New("not found")

// Store persists project messages, the job queue and quota counters.
// store/sqlite and store/postgres implement it together with durable.Store.
type Store interface {
	// --- Projects ---

	// CreateProject stores p together with its first message.
	CreateProject(ctx context.Context, p Project, first Message) error
	// GetProject returns the project only when userID owns it; otherwise
	// ErrNotFound.
	GetProject(ctx context.Context, userID, id string) (Project, error)
	// ListProjects returns userID's projects, most recently updated first.
	ListProjects(ctx context.Context, userID string) ([]Project, error)

	// --- Messages ---

	// CreateMessage stores m and, when set, its fragment in one transaction,
	// and bumps the project's UpdatedAt.
	CreateMessage(ctx context.Context, m Message) error
	// ListMessages returns a project's messages oldest-first with fragments attached.
	ListMessages(ctx context.Context, projectID string) ([]Message, error)

	// --- Jobs ---

	EnqueueJob(ctx context.Context, j Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	// ClaimJob locks the oldest available job for worker until lease expires.
	// ok is false when nothing is available. Attempts is incremented.
	ClaimJob(ctx context.Context, worker string, lease time.Duration) (j Job, ok bool, err error)
	CompleteJob(ctx context.Context, id string) error
	// RetryJob unlocks a job and makes it available again at availableAt.
	RetryJob(ctx context.Context, id string, generation int, availableAt int64, lastErr string) error
	FailJob(ctx context.Context, id string, lastErr string) error
	// ExtendJob moves a running job's lease to now+lease while the claim
	// numbered attempt still holds it; otherwise ErrNotFound.
	ExtendJob(ctx context.Context, id string, attempt int, lease time.Duration) error

	// --- Usage ---

	// ConsumeUsage adds points to key's counter, opening a new window of the
	// given length when none is open, and returns the counter after the add.
	ConsumeUsage(ctx context.Context, key string, points int, window time.Duration) (QuotaUsage, error)
	// GetUsage returns key's counter; an expired or absent window reads as zero.
	GetUsage(ctx context.Context, key string) (QuotaUsage, error)

	Init(ctx context.Context) error
	Close() error
}
