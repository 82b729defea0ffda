package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/localcache/isq/internal/forge"
)

// UpsertGoals mirrors the Goals supplement (milestones/projects) the same
// way issues are mirrored: never locally mutated except by sync or a
// confirmed write.
func (s *Store) UpsertGoals(ctx context.Context, gitDir string, goals []forge.Goal) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, g := range goals {
			var targetDate interface{}
			if g.TargetDate != nil {
				targetDate = g.TargetDate.UTC().Format(time.RFC3339)
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO goals (
					git_dir, id, name, description, target_date, state, progress,
					open_count, closed_count, created_at, updated_at, url
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(git_dir, id) DO UPDATE SET
					name = excluded.name,
					description = excluded.description,
					target_date = excluded.target_date,
					state = excluded.state,
					progress = excluded.progress,
					open_count = excluded.open_count,
					closed_count = excluded.closed_count,
					updated_at = excluded.updated_at,
					url = excluded.url
			`, gitDir, g.ID, g.Name, g.Description, targetDate, string(g.State), g.Progress,
				g.OpenCount, g.ClosedCount,
				g.CreatedAt.UTC().Format(time.RFC3339), g.UpdatedAt.UTC().Format(time.RFC3339), g.URL)
			if err != nil {
				return fmt.Errorf("upsert goal %s: %w", g.ID, err)
			}
		}
		return tx.Commit()
	})
}

func (s *Store) ListGoals(ctx context.Context, gitDir string, includeClosed bool) ([]forge.Goal, error) {
	query := `SELECT id, name, description, target_date, state, progress, open_count, closed_count, created_at, updated_at, url FROM goals WHERE git_dir = ?`
	if !includeClosed {
		query += ` AND state = 'open'`
	}
	rows, err := s.conn.QueryContext(ctx, query, gitDir)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var out []forge.Goal
	for rows.Next() {
		var g forge.Goal
		var targetDate sql.NullString
		var createdAt, updatedAt string
		var state string
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &targetDate, &state, &g.Progress, &g.OpenCount, &g.ClosedCount, &createdAt, &updatedAt, &g.URL); err != nil {
			return nil, err
		}
		g.State = forge.State(state)
		if targetDate.Valid {
			t, _ := time.Parse(time.RFC3339, targetDate.String)
			g.TargetDate = &t
		}
		g.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		g.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) GetGoal(ctx context.Context, gitDir, id string) (forge.Goal, bool, error) {
	goals, err := s.ListGoals(ctx, gitDir, true)
	if err != nil {
		return forge.Goal{}, false, err
	}
	for _, g := range goals {
		if g.ID == id || g.Name == id {
			return g, true, nil
		}
	}
	return forge.Goal{}, false, nil
}
