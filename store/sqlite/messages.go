package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nevindra/vybe"
)

// CreateMessage inserts m and its fragment, if any, in one transaction.
func (s *Store) CreateMessage(ctx context.Context, m vybe.Message) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertMessage(ctx, tx, m); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: create message ok", "project_id", m.ProjectID, "kind", m.Kind, "fragment", m.Fragment != nil, "duration", time.Since(start))
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, m vybe.Message) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, project_id, role, kind, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.Role, m.Kind, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	// Runs started outside the API may use a project id with no row.
	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET updated_at = MAX(updated_at, ?) WHERE id = ?`, m.CreatedAt, m.ProjectID); err != nil {
		return fmt.Errorf("touch project: %w", err)
	}

	f := m.Fragment
	if f == nil {
		return nil
	}
	files, err := json.Marshal(f.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO fragments (id, message_id, sandbox_url, title, files, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, m.ID, f.SandboxURL, f.Title, string(files), f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fragment: %w", err)
	}
	return nil
}

// ListMessages returns a project's messages oldest-first with fragments.
func (s *Store) ListMessages(ctx context.Context, projectID string) ([]vybe.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.project_id, m.role, m.kind, m.content, m.created_at,
		        f.id, f.sandbox_url, f.title, f.files, f.created_at
		 FROM messages m
		 LEFT JOIN fragments f ON f.message_id = m.id
		 WHERE m.project_id = ?
		 ORDER BY m.created_at ASC, m.id ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []vybe.Message
	for rows.Next() {
		var (
			m                      vybe.Message
			fid, furl, ftitle, fjs *string
			fcreated               *int64
		)
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Role, &m.Kind, &m.Content, &m.CreatedAt,
			&fid, &furl, &ftitle, &fjs, &fcreated); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if fid != nil {
			f := &vybe.Fragment{ID: *fid, MessageID: m.ID, SandboxURL: *furl, Title: *ftitle, CreatedAt: *fcreated}
			if err := json.Unmarshal([]byte(*fjs), &f.Files); err != nil {
				return nil, fmt.Errorf("decode files of %s: %w", m.ID, err)
			}
			m.Fragment = f
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
