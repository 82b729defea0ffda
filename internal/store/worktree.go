package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WorktreeIssueLink is created by `current`'s companion `start` command and
// deleted by `cleanup`; it is never mirrored to a remote. Cyclic references
// (link -> binding -> git dir) are resolved by lookup against the store
// rather than by an in-memory pointer graph, per §9's design note.
type WorktreeIssueLink struct {
	GitDir      string
	BoundGitDir string
	IssueKey    string
	CreatedAt   time.Time
}

func (s *Store) PutWorktreeIssue(ctx context.Context, gitDir, boundGitDir, issueKey string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.conn.ExecContext(ctx, `
			INSERT INTO worktree_links (git_dir, bound_git_dir, issue_key, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(git_dir) DO UPDATE SET
				bound_git_dir = excluded.bound_git_dir,
				issue_key = excluded.issue_key,
				created_at = excluded.created_at
		`, gitDir, boundGitDir, issueKey, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("put worktree link: %w", err)
		}
		return nil
	})
}

func (s *Store) GetWorktreeIssue(ctx context.Context, gitDir string) (WorktreeIssueLink, bool, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT git_dir, bound_git_dir, issue_key, created_at FROM worktree_links WHERE git_dir = ?`, gitDir)
	var l WorktreeIssueLink
	var createdAt string
	err := row.Scan(&l.GitDir, &l.BoundGitDir, &l.IssueKey, &createdAt)
	if err == sql.ErrNoRows {
		return WorktreeIssueLink{}, false, nil
	}
	if err != nil {
		return WorktreeIssueLink{}, false, fmt.Errorf("get worktree link: %w", err)
	}
	l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return l, true, nil
}

func (s *Store) DeleteWorktreeIssue(ctx context.Context, gitDir string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.conn.ExecContext(ctx, `DELETE FROM worktree_links WHERE git_dir = ?`, gitDir)
		return err
	})
}

// LocalState holds the personal snooze/archive state resolved as local-only
// in SPEC_FULL.md §9 — never transmitted to an adapter.
type LocalState struct {
	IssueKey      string
	SnoozedUntil  *time.Time
	Archived      bool
}

func (s *Store) SetSnooze(ctx context.Context, gitDir, issueKey string, until time.Time) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.conn.ExecContext(ctx, `
			INSERT INTO local_state (git_dir, issue_key, snoozed_until, archived)
			VALUES (?, ?, ?, 0)
			ON CONFLICT(git_dir, issue_key) DO UPDATE SET snoozed_until = excluded.snoozed_until
		`, gitDir, issueKey, until.UTC().Format(time.RFC3339))
		return err
	})
}

func (s *Store) SetArchived(ctx context.Context, gitDir, issueKey string, archived bool) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.conn.ExecContext(ctx, `
			INSERT INTO local_state (git_dir, issue_key, archived)
			VALUES (?, ?, ?)
			ON CONFLICT(git_dir, issue_key) DO UPDATE SET archived = excluded.archived
		`, gitDir, issueKey, boolToInt(archived))
		return err
	})
}

func (s *Store) GetLocalState(ctx context.Context, gitDir, issueKey string) (LocalState, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT snoozed_until, archived FROM local_state WHERE git_dir = ? AND issue_key = ?`, gitDir, issueKey)
	var snoozedUntil sql.NullString
	var archived int
	err := row.Scan(&snoozedUntil, &archived)
	if err == sql.ErrNoRows {
		return LocalState{IssueKey: issueKey}, nil
	}
	if err != nil {
		return LocalState{}, fmt.Errorf("get local state: %w", err)
	}
	ls := LocalState{IssueKey: issueKey, Archived: archived != 0}
	if snoozedUntil.Valid {
		t, _ := time.Parse(time.RFC3339, snoozedUntil.String)
		ls.SnoozedUntil = &t
	}
	return ls, nil
}
