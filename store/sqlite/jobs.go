package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nevindra/vybe"
)

const jobColumns = `id, project_id, user_id, input, status, attempts, generation,
	last_error, locked_by, locked_until, available_at, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (vybe.Job, error) {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, project_id, user_id, input, status, generation, available_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.ProjectID, j.UserID, j.Input, vybe.JobPending, j.Generation, j.AvailableAt, j.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	s.logger.Debug("sqlite: job enqueued", "job_id", j.ID, "project_id", j.ProjectID)
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (vybe.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return vybe.Job{}, fmt.Errorf("job %s: %w", id, vybe.ErrNotFound)
	}
	if err != nil {
		return vybe.Job{}, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ClaimJob locks the oldest available job: a pending job whose AvailableAt
// has passed, or a running job whose lease expired.
func (s *Store) ClaimJob(ctx context.Context, worker string, lease time.Duration) (vybe.Job, bool, error) {
	now := vybe.NowMillis()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vybe.Job{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM jobs
		 WHERE (status = ? AND available_at <= ?) OR (status = ? AND locked_until <= ?)
		 ORDER BY available_at ASC, created_at ASC
		 LIMIT 1`,
		vybe.JobPending, now, vybe.JobRunning, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return vybe.Job{}, false, nil
	}
	if err != nil {
		return vybe.Job{}, false, fmt.Errorf("select job: %w", err)
	}

	j, err := scanJob(tx.QueryRowContext(ctx,
		`UPDATE jobs SET status = ?, locked_by = ?, locked_until = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ?
		 RETURNING `+jobColumns,
		vybe.JobRunning, worker, now+lease.Milliseconds(), now, id))
	if err != nil {
		return vybe.Job{}, false, fmt.Errorf("lock job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return vybe.Job{}, false, fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: job claimed", "job_id", j.ID, "worker", worker, "attempts", j.Attempts)
	return j, true, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	return s.updateJob(ctx, id,
		`UPDATE jobs SET status = ?, locked_by = '', locked_until = 0, updated_at = ? WHERE id = ?`,
		vybe.JobSucceeded, vybe.NowMillis(), id)
}

func (s *Store) RetryJob(ctx context.Context, id string, generation int, availableAt int64, lastErr string) error {
	return s.updateJob(ctx, id,
		`UPDATE jobs SET status = ?, generation = ?, available_at = ?, last_error = ?,
		        locked_by = '', locked_until = 0, updated_at = ?
		 WHERE id = ?`,
		vybe.JobPending, generation, availableAt, lastErr, vybe.NowMillis(), id)
}

func (s *Store) FailJob(ctx context.Context, id string, lastErr string) error {
	return s.updateJob(ctx, id,
		`UPDATE jobs SET status = ?, last_error = ?, locked_by = '', locked_until = 0, updated_at = ? WHERE id = ?`,
		vybe.JobFailed, lastErr, vybe.NowMillis(), id)
}

// ExtendJob refreshes the lease of the claim numbered attempt. The attempts
// counter fences out a claim that expired and was taken by another worker.
func (s *Store) ExtendJob(ctx context.Context, id string, attempt int, lease time.Duration) error {
	now := vybe.NowMillis()
	return s.updateJob(ctx, id,
		`UPDATE jobs SET locked_until = ?, updated_at = ? WHERE id = ? AND status = ? AND attempts = ?`,
		now+lease.Milliseconds(), now, id, vybe.JobRunning, attempt)
}

func (s *Store) updateJob(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, vybe.ErrNotFound)
	}
	return nil
}
