package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nevindra/vybe"
)

// CreateProject inserts p and its first message in one transaction.
func (s *Store) CreateProject(ctx context.Context, p vybe.Project, first vybe.Message) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO projects (id, user_id, name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
			p.ID, p.UserID, p.Name, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("postgres: insert project: %w", err)
		}
		return insertMessage(ctx, tx, first)
	})
	if err != nil {
		return err
	}
	s.logger.Debug("postgres: project created", "project_id", p.ID, "user_id", p.UserID)
	return nil
}

func (s *Store) GetProject(ctx context.Context, userID, id string) (vybe.Project, error) {
	var p vybe.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, created_at, updated_at FROM projects WHERE id = $1 AND user_id = $2`,
		id, userID).Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return vybe.Project{}, fmt.Errorf("project %s: %w", id, vybe.ErrNotFound)
	}
	if err != nil {
		return vybe.Project{}, fmt.Errorf("postgres: get project: %w", err)
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]vybe.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, created_at, updated_at FROM projects
		 WHERE user_id = $1
		 ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list projects: %w", err)
	}
	projects, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vybe.Project, error) {
		var p vybe.Project
		err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list projects: %w", err)
	}
	return projects, nil
}
