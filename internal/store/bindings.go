package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/localcache/isq/internal/forge"
)

// Binding is the persisted association between a local git directory and
// exactly one forge+remote-repo identity plus an opaque token handle.
type Binding struct {
	GitDir      string
	ForgeKind   forge.Kind
	Repo        string
	TokenHandle string
	LinkedAt    time.Time
}

// PutBinding writes the binding atomically. Per §3's invariant, linking a
// second time for the same git directory replaces the prior binding — the
// CLI layer is responsible for requiring a confirmation op before calling
// this on an already-bound directory.
func (s *Store) PutBinding(ctx context.Context, b Binding) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.conn.ExecContext(ctx, `
			INSERT INTO bindings (git_dir, forge_kind, repo, token_handle, linked_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(git_dir) DO UPDATE SET
				forge_kind = excluded.forge_kind,
				repo = excluded.repo,
				token_handle = excluded.token_handle,
				linked_at = excluded.linked_at
		`, b.GitDir, string(b.ForgeKind), b.Repo, b.TokenHandle, b.LinkedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("put binding: %w", err)
		}
		return nil
	})
}

func (s *Store) GetBinding(ctx context.Context, gitDir string) (Binding, bool, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT git_dir, forge_kind, repo, token_handle, linked_at FROM bindings WHERE git_dir = ?`, gitDir)
	var b Binding
	var kind, linkedAt string
	err := row.Scan(&b.GitDir, &kind, &b.Repo, &b.TokenHandle, &linkedAt)
	if err == sql.ErrNoRows {
		return Binding{}, false, nil
	}
	if err != nil {
		return Binding{}, false, fmt.Errorf("get binding: %w", err)
	}
	b.ForgeKind = forge.Kind(kind)
	b.LinkedAt, _ = time.Parse(time.RFC3339, linkedAt)
	return b, true, nil
}

// DeleteBinding removes the binding and, when purgeIssues is set, its
// cached issues. Foreign-key cascade removes the binding's pending ops, sync
// state, goals and local state; the issues table has no foreign key, so
// cached issues stay unless purgeIssues is set. purgeIssues resolves the
// unlink cache-retention open question: default false (retain for offline
// reading).
func (s *Store) DeleteBinding(ctx context.Context, gitDir string, purgeIssues bool) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if purgeIssues {
			if _, err := tx.ExecContext(ctx, `DELETE FROM issues WHERE git_dir = ?`, gitDir); err != nil {
				return fmt.Errorf("purge issues: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bindings WHERE git_dir = ?`, gitDir); err != nil {
			return fmt.Errorf("delete binding: %w", err)
		}
		return tx.Commit()
	})
}

// ListBindings returns every binding, ordered for the sync engine's
// most-recently-accessed-first preference (via sync_state.last_synced_at).
func (s *Store) ListBindings(ctx context.Context) ([]Binding, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT b.git_dir, b.forge_kind, b.repo, b.token_handle, b.linked_at
		FROM bindings b
		LEFT JOIN sync_state ss ON ss.git_dir = b.git_dir
		ORDER BY ss.last_synced_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var b Binding
		var kind, linkedAt string
		if err := rows.Scan(&b.GitDir, &kind, &b.Repo, &b.TokenHandle, &linkedAt); err != nil {
			return nil, err
		}
		b.ForgeKind = forge.Kind(kind)
		b.LinkedAt, _ = time.Parse(time.RFC3339, linkedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}
