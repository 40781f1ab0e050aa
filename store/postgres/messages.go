package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nevindra/vybe"
)

// CreateMessage inserts m and its fragment, if any, in one transaction.
func (s *Store) CreateMessage(ctx context.Context, m vybe.Message) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return insertMessage(ctx, tx, m)
	})
}

func insertMessage(ctx context.Context, tx pgx.Tx, m vybe.Message) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO messages (id, project_id, role, kind, content, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ProjectID, m.Role, m.Kind, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert message: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE projects SET updated_at = GREATEST(updated_at, $1) WHERE id = $2`, m.CreatedAt, m.ProjectID); err != nil {
		return fmt.Errorf("postgres: touch project: %w", err)
	}

	f := m.Fragment
	if f == nil {
		return nil
	}
	files, err := json.Marshal(f.Files)
	if err != nil {
		return fmt.Errorf("postgres: marshal files: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO fragments (id, message_id, sandbox_url, title, files, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, m.ID, f.SandboxURL, f.Title, files, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert fragment: %w", err)
	}
	return nil
}

// ListMessages returns a project's messages oldest-first with fragments.
func (s *Store) ListMessages(ctx context.Context, projectID string) ([]vybe.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.project_id, m.role, m.kind, m.content, m.created_at,
		        f.id, f.sandbox_url, f.title, f.files, f.created_at
		 FROM messages m
		 LEFT JOIN fragments f ON f.message_id = m.id
		 WHERE m.project_id = $1
		 ORDER BY m.created_at ASC, m.id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list messages: %w", err)
	}
	defer rows.Close()

	var out []vybe.Message
	for rows.Next() {
		var (
			m                 vybe.Message
			fid, furl, ftitle *string
			files             []byte
			fcreated          *int64
		)
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Role, &m.Kind, &m.Content, &m.CreatedAt,
			&fid, &furl, &ftitle, &files, &fcreated); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		if fid != nil {
			f := &vybe.Fragment{ID: *fid, MessageID: m.ID, SandboxURL: *furl, Title: *ftitle, CreatedAt: *fcreated}
			if err := json.Unmarshal(files, &f.Files); err != nil {
				return nil, fmt.Errorf("postgres: decode files of %s: %w", m.ID, err)
			}
			m.Fragment = f
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate messages: %w", err)
	}
	return out, nil
}
