// Package sqlite implements vybe.Store and durable.Store using pure-Go
// SQLite. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/durable"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store persists messages, jobs, quota usage and durable step records in a
// local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
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

// New creates a Store using a local SQLite file at dbPath.
// All goroutines serialize through one connection (SetMaxOpenConns(1)),
// which also makes every transaction below atomic with respect to other
// callers of the same Store.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables and indexes.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	ddl := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			role TEXT NOT NULL,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_project ON messages(project_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS fragments (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL UNIQUE REFERENCES messages(id) ON DELETE CASCADE,
			sandbox_url TEXT NOT NULL,
			title TEXT NOT NULL,
			files TEXT NOT NULL,
			created_at INTEGER NOT NULL
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
			locked_until INTEGER NOT NULL DEFAULT 0,
			available_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, available_at)`,
		`CREATE TABLE IF NOT EXISTS usage (
			key TEXT PRIMARY KEY,
			points INTEGER NOT NULL,
			expire_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			owner TEXT NOT NULL,
			result BLOB,
			claimed_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, name)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("sqlite: init failed", "error", err)
			return fmt.Errorf("init: %w", err)
		}
	}
	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
