package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nevindra/vybe"
)

// CreateProject inserts p and its first message in one transaction.
func (s *Store) CreateProject(ctx context.Context, p vybe.Project, first vybe.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO projects (id, user_id, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := insertMessage(ctx, tx, first); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: project created", "project_id", p.ID, "user_id", p.UserID)
	return nil
}

func (s *Store) GetProject(ctx context.Context, userID, id string) (vybe.Project, error) {
	var p vybe.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at, updated_at FROM projects WHERE id = ? AND user_id = ?`,
		id, userID).Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return vybe.Project{}, fmt.Errorf("project %s: %w", id, vybe.ErrNotFound)
	}
	if err != nil {
		return vybe.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]vybe.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, created_at, updated_at FROM projects
		 WHERE user_id = ?
		 ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []vybe.Project
	for rows.Next() {
		var p vybe.Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
