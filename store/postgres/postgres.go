// Package postgres implements vybe.Store and durable.Store on PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/durable"
)

// Store persists messages, jobs, quota usage and durable step records.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures a PostgreSQL Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

var (
	_ vybe.Store    = (*Store)(nil)
	_ durable.Store = (*Store)(nil)
)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates all required tables and indexes. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS projects_user_idx ON projects(user_id, updated_at)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			role TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_project_idx ON messages(project_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS fragments (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL UNIQUE REFERENCES messages(id) ON DELETE CASCADE,
			sandbox_url TEXT NOT NULL,
			title TEXT NOT NULL,
			files JSONB NOT NULL,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			input TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			generation INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			locked_by TEXT NOT NULL DEFAULT '',
			locked_until BIGINT NOT NULL DEFAULT 0,
			available_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS jobs_claim_idx ON jobs(status, available_at)`,

		`CREATE TABLE IF NOT EXISTS usage (
			key TEXT PRIMARY KEY,
			points INTEGER NOT NULL,
			expire_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			owner TEXT NOT NULL,
			result JSONB,
			claimed_at BIGINT NOT NULL,
			completed_at BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, name)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	s.logger.Info("postgres: init completed")
	return nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}
