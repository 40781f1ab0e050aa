package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nevindra/vybe"
)

// ConsumeUsage adds points to key in a single upsert, opening a fresh window
// when the stored one has expired.
func (s *Store) ConsumeUsage(ctx context.Context, key string, points int, window time.Duration) (vybe.QuotaUsage, error) {
	now := vybe.NowMillis()
	u := vybe.QuotaUsage{Key: key}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO usage (key, points, expire_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET
		   points = CASE WHEN usage.expire_at <= $4 THEN EXCLUDED.points ELSE usage.points + EXCLUDED.points END,
		   expire_at = CASE WHEN usage.expire_at <= $4 THEN EXCLUDED.expire_at ELSE usage.expire_at END
		 RETURNING points, expire_at`,
		key, points, now+window.Milliseconds(), now).Scan(&u.Points, &u.ExpireAt)
	if err != nil {
		return vybe.QuotaUsage{}, fmt.Errorf("postgres: consume usage: %w", err)
	}
	return u, nil
}

func (s *Store) GetUsage(ctx context.Context, key string) (vybe.QuotaUsage, error) {
	u := vybe.QuotaUsage{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT points, expire_at FROM usage WHERE key = $1 AND expire_at > $2`,
		key, vybe.NowMillis()).Scan(&u.Points, &u.ExpireAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return vybe.QuotaUsage{}, fmt.Errorf("postgres: get usage: %w", err)
	}
	return u, nil
}
