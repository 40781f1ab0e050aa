package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nevindra/vybe"
)

// ConsumeUsage adds points to key inside one transaction, opening a fresh
// window when the stored one has expired.
func (s *Store) ConsumeUsage(ctx context.Context, key string, points int, window time.Duration) (vybe.QuotaUsage, error) {
	now := vybe.NowMillis()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vybe.QuotaUsage{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	u := vybe.QuotaUsage{Key: key}
	err = tx.QueryRowContext(ctx, `SELECT points, expire_at FROM usage WHERE key = ?`, key).Scan(&u.Points, &u.ExpireAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return vybe.QuotaUsage{}, fmt.Errorf("select usage: %w", err)
	}
	if u.ExpireAt <= now {
		u.Points = 0
		u.ExpireAt = now + window.Milliseconds()
	}
	u.Points += points

	_, err = tx.ExecContext(ctx,
		`INSERT INTO usage (key, points, expire_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET points = excluded.points, expire_at = excluded.expire_at`,
		key, u.Points, u.ExpireAt)
	if err != nil {
		return vybe.QuotaUsage{}, fmt.Errorf("upsert usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return vybe.QuotaUsage{}, fmt.Errorf("commit tx: %w", err)
	}
	return u, nil
}

func (s *Store) GetUsage(ctx context.Context, key string) (vybe.QuotaUsage, error) {
	u := vybe.QuotaUsage{Key: key}
	err := s.db.QueryRowContext(ctx, `SELECT points, expire_at FROM usage WHERE key = ?`, key).Scan(&u.Points, &u.ExpireAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return vybe.QuotaUsage{}, fmt.Errorf("get usage: %w", err)
	}
	if u.ExpireAt <= vybe.NowMillis() {
		return vybe.QuotaUsage{Key: key}, nil
	}
	return u, nil
}
