package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nevindra/vybe"
)

const jobColumns = `id, project_id, user_id, input, status, attempts, generation,
	last_error, locked_by, locked_until, available_at, created_at, updated_at`

func scanJob(row pgx.Row) (vybe.Job, error) {
	var j vybe.Job
	err := row.Scan(&j.ID, &j.ProjectID, &j.UserID, &j.Input, &j.Status, &j.Attempts, &j.Generation,
		&j.LastError, &j.LockedBy, &j.LockedUntil, &j.AvailableAt, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

// EnqueueJob inserts a pending job. A zero AvailableAt means now.
func (s *Store) EnqueueJob(ctx context.Context, j vybe.Job) error {
	now := vybe.NowMillis()
	if j.AvailableAt == 0 {
		j.AvailableAt = now
	}
	if j.CreatedAt == 0 {
		j.CreatedAt = now
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, project_id, user_id, input, status, generation, available_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		j.ID, j.ProjectID, j.UserID, j.Input, vybe.JobPending, j.Generation, j.AvailableAt, j.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("postgres: insert job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (vybe.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return vybe.Job{}, fmt.Errorf("job %s: %w", id, vybe.ErrNotFound)
	}
	if err != nil {
		return vybe.Job{}, fmt.Errorf("postgres: get job: %w", err)
	}
	return j, nil
}

// ClaimJob locks the oldest available job. Concurrent workers skip rows
// another transaction is already claiming.
func (s *Store) ClaimJob(ctx context.Context, worker string, lease time.Duration) (vybe.Job, bool, error) {
	now := vybe.NowMillis()
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $1, locked_by = $2, locked_until = $3, attempts = attempts + 1, updated_at = $4
		 WHERE id = (
		   SELECT id FROM jobs
		   WHERE (status = $5 AND available_at <= $4) OR (status = $1 AND locked_until <= $4)
		   ORDER BY available_at ASC, created_at ASC
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		vybe.JobRunning, worker, now+lease.Milliseconds(), now, vybe.JobPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return vybe.Job{}, false, nil
	}
	if err != nil {
		return vybe.Job{}, false, fmt.Errorf("postgres: claim job: %w", err)
	}
	s.logger.Debug("postgres: job claimed", "job_id", j.ID, "worker", worker, "attempts", j.Attempts)
	return j, true, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	return s.updateJob(ctx, id,
		`UPDATE jobs SET status = $1, locked_by = '', locked_until = 0, updated_at = $2 WHERE id = $3`,
		vybe.JobSucceeded, vybe.NowMillis(), id)
}

func (s *Store) RetryJob(ctx context.Context, id string, generation int, availableAt int64, lastErr string) error {
	return s.updateJob(ctx, id,
		`UPDATE jobs SET status = $1, generation = $2, available_at = $3, last_error = $4,
		        locked_by = '', locked_until = 0, updated_at = $5
		 WHERE id = $6`,
		vybe.JobPending, generation, availableAt, lastErr, vybe.NowMillis(), id)
}

func (s *Store) FailJob(ctx context.Context, id string, lastErr string) error {
	return s.updateJob(ctx, id,
		`UPDATE jobs SET status = $1, last_error = $2, locked_by = '', locked_until = 0, updated_at = $3 WHERE id = $4`,
		vybe.JobFailed, lastErr, vybe.NowMillis(), id)
}

// ExtendJob refreshes the lease of the claim numbered attempt.
func (s *Store) ExtendJob(ctx context.Context, id string, attempt int, lease time.Duration) error {
	now := vybe.NowMillis()
	return s.updateJob(ctx, id,
		`UPDATE jobs SET locked_until = $1, updated_at = $2 WHERE id = $3 AND status = $4 AND attempts = $5`,
		now+lease.Milliseconds(), now, id, vybe.JobRunning, attempt)
}

func (s *Store) updateJob(ctx context.Context, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, vybe.ErrNotFound)
	}
	return nil
}
