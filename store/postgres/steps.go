package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/durable"
)

const stepColumns = `run_id, name, owner, result, claimed_at, completed_at`

func scanStep(row pgx.Row) (durable.StepRecord, error) {
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
	rec, err := scanStep(s.pool.QueryRow(ctx,
		`INSERT INTO steps (run_id, name, owner, claimed_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_id, name) DO UPDATE SET owner = EXCLUDED.owner, claimed_at = EXCLUDED.claimed_at
		 WHERE steps.completed_at = 0 AND (steps.owner = EXCLUDED.owner OR steps.claimed_at + $5 <= EXCLUDED.claimed_at)
		 RETURNING `+stepColumns,
		runID, name, owner, vybe.NowMillis(), lease.Milliseconds()))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return durable.StepRecord{}, fmt.Errorf("postgres: claim step: %w", err)
	}

	rec, err = s.getStep(ctx, runID, name)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return durable.StepRecord{}, durable.ErrStepInFlight
	case err != nil:
		return durable.StepRecord{}, fmt.Errorf("postgres: get step: %w", err)
	case rec.Completed():
		return rec, nil
	default:
		return durable.StepRecord{}, durable.ErrStepInFlight
	}
}

func (s *Store) CompleteStep(ctx context.Context, runID, name, owner string, result []byte) (durable.StepRecord, error) {
	rec, err := scanStep(s.pool.QueryRow(ctx,
		`UPDATE steps SET result = $1, completed_at = $2
		 WHERE run_id = $3 AND name = $4 AND owner = $5 AND completed_at = 0
		 RETURNING `+stepColumns,
		result, vybe.NowMillis(), runID, name, owner))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return durable.StepRecord{}, fmt.Errorf("postgres: complete step: %w", err)
	}

	rec, err = s.getStep(ctx, runID, name)
	if err == nil && rec.Completed() {
		return rec, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return durable.StepRecord{}, fmt.Errorf("postgres: get step: %w", err)
	}
	return durable.StepRecord{}, durable.ErrClaimLost
}

func (s *Store) ReleaseStep(ctx context.Context, runID, name, owner string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM steps WHERE run_id = $1 AND name = $2 AND owner = $3 AND completed_at = 0`,
		runID, name, owner)
	if err != nil {
		return fmt.Errorf("postgres: release step: %w", err)
	}
	return nil
}

func (s *Store) ListSteps(ctx context.Context, runID string) ([]durable.StepRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = $1 ORDER BY claimed_at ASC, name ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list steps: %w", err)
	}
	defer rows.Close()

	var out []durable.StepRecord
	for rows.Next() {
		rec, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan step: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate steps: %w", err)
	}
	return out, nil
}

func (s *Store) getStep(ctx context.Context, runID, name string) (durable.StepRecord, error) {
	return scanStep(s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM steps WHERE run_id = $1 AND name = $2`, runID, name))
}
