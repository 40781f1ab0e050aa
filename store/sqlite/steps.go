package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/durable"
)

const stepColumns = `run_id, name, owner, result, claimed_at, completed_at`

func scanStep(row interface{ Scan(...any) error }) (durable.StepRecord, error) {
	var (
		r      durable.StepRecord
		result []byte
	)
	if err := row.Scan(&r.RunID, &r.Name, &r.Owner, &result, &r.ClaimedAt, &r.CompletedAt); err != nil {
		return durable.StepRecord{}, err
	}
	if len(result) > 0 {
		r.Result = result
	}
	return r, nil
}

// ClaimStep claims (runID, name) with a single upsert. The conflict branch
// only fires for a pending record that owner already holds or whose lease
// has expired.
func (s *Store) ClaimStep(ctx context.Context, runID, name, owner string, lease time.Duration) (durable.StepRecord, error) {
	now := vybe.NowMillis()
	rec, err := scanStep(s.db.QueryRowContext(ctx,
		`INSERT INTO steps (run_id, name, owner, claimed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, name) DO UPDATE SET owner = excluded.owner, claimed_at = excluded.claimed_at
		 WHERE steps.completed_at = 0 AND (steps.owner = excluded.owner OR steps.claimed_at + ? <= excluded.claimed_at)
		 RETURNING `+stepColumns,
		runID, name, owner, now, lease.Milliseconds()))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return durable.StepRecord{}, fmt.Errorf("claim step: %w", err)
	}

	rec, err = s.getStep(ctx, runID, name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Released between the two statements; the caller retries later.
		return durable.StepRecord{}, durable.ErrStepInFlight
	case err != nil:
		return durable.StepRecord{}, fmt.Errorf("get step: %w", err)
	case rec.Completed():
		return rec, nil
	default:
		return durable.StepRecord{}, durable.ErrStepInFlight
	}
}

func (s *Store) CompleteStep(ctx context.Context, runID, name, owner string, result []byte) (durable.StepRecord, error) {
	rec, err := scanStep(s.db.QueryRowContext(ctx,
		`UPDATE steps SET result = ?, completed_at = ?
		 WHERE run_id = ? AND name = ? AND owner = ? AND completed_at = 0
		 RETURNING `+stepColumns,
		result, vybe.NowMillis(), runID, name, owner))
	if err == nil {
		s.logger.Debug("sqlite: step completed", "run_id", runID, "step", name)
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return durable.StepRecord{}, fmt.Errorf("complete step: %w", err)
	}

	rec, err = s.getStep(ctx, runID, name)
	if err == nil && rec.Completed() {
		return rec, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return durable.StepRecord{}, fmt.Errorf("get step: %w", err)
	}
	return durable.StepRecord{}, durable.ErrClaimLost
}

func (s *Store) ReleaseStep(ctx context.Context, runID, name, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM steps WHERE run_id = ? AND name = ? AND owner = ? AND completed_at = 0`,
		runID, name, owner)
	if err != nil {
		return fmt.Errorf("release step: %w", err)
	}
	return nil
}

func (s *Store) ListSteps(ctx context.Context, runID string) ([]durable.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = ? ORDER BY claimed_at ASC, name ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []durable.StepRecord
	for rows.Next() {
		rec, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) getStep(ctx context.Context, runID, name string) (durable.StepRecord, error) {
	return scanStep(s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = ? AND name = ?`, runID, name))
}
