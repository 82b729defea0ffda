package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one forward step in schema evolution. Migrations never run
// backward; a failed migration leaves schema_version unchanged so the next
// Open retries it.
//
// The teacher repo punts on migrations entirely (InitSchema is
// create-if-absent, column changes require a cache reset) on the premise
// that its cache is rebuildable. That premise does not hold here: pending
// ops, worktree links, and local snooze/archive state are not rebuildable,
// so this store carries a version row and an ordered migrations list from
// the first schema.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial schema",
		SQL: `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS bindings (
				git_dir       TEXT PRIMARY KEY,
				forge_kind    TEXT NOT NULL,
				repo          TEXT NOT NULL,
				token_handle  TEXT NOT NULL,
				linked_at     TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS issues (
				git_dir     TEXT NOT NULL,
				key         TEXT NOT NULL,
				native_id   TEXT NOT NULL,
				title       TEXT NOT NULL,
				body        TEXT NOT NULL DEFAULT '',
				state       TEXT NOT NULL,
				author      TEXT NOT NULL DEFAULT '',
				labels      TEXT NOT NULL DEFAULT '[]',
				assignees   TEXT NOT NULL DEFAULT '[]',
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL,
				url         TEXT NOT NULL DEFAULT '',
				content_hash TEXT NOT NULL DEFAULT '',
				tombstone   INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (git_dir, key)
			);
			CREATE INDEX IF NOT EXISTS idx_issues_state ON issues(git_dir, state);
			CREATE INDEX IF NOT EXISTS idx_issues_tombstone ON issues(git_dir, tombstone);

			CREATE TABLE IF NOT EXISTS pending_ops (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				git_dir     TEXT NOT NULL,
				op_kind     TEXT NOT NULL,
				payload     TEXT NOT NULL,
				status      TEXT NOT NULL DEFAULT 'pending',
				created_at  TEXT NOT NULL,
				FOREIGN KEY (git_dir) REFERENCES bindings(git_dir) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_pending_ops_git_dir ON pending_ops(git_dir, id);

			CREATE TABLE IF NOT EXISTS sync_state (
				git_dir             TEXT PRIMARY KEY,
				last_synced_at      TEXT,
				last_cursor         TEXT NOT NULL DEFAULT '',
				observed_row_count  INTEGER NOT NULL DEFAULT 0,
				needs_reauth        INTEGER NOT NULL DEFAULT 0,
				rate_limited_until  TEXT,
				FOREIGN KEY (git_dir) REFERENCES bindings(git_dir) ON DELETE CASCADE
			);

			CREATE TABLE IF NOT EXISTS worktree_links (
				git_dir     TEXT PRIMARY KEY,
				bound_git_dir TEXT NOT NULL,
				issue_key   TEXT NOT NULL,
				created_at  TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS goals (
				git_dir     TEXT NOT NULL,
				id          TEXT NOT NULL,
				name        TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				target_date TEXT,
				state       TEXT NOT NULL,
				progress    REAL NOT NULL DEFAULT 0,
				open_count  INTEGER NOT NULL DEFAULT 0,
				closed_count INTEGER NOT NULL DEFAULT 0,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL,
				url         TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (git_dir, id),
				FOREIGN KEY (git_dir) REFERENCES bindings(git_dir) ON DELETE CASCADE
			);
		`,
	},
	{
		Version: 2,
		Name:    "local-only snooze and archive state",
		SQL: `
			CREATE TABLE IF NOT EXISTS local_state (
				git_dir        TEXT NOT NULL,
				issue_key      TEXT NOT NULL,
				snoozed_until  TEXT,
				archived       INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (git_dir, issue_key),
				FOREIGN KEY (git_dir) REFERENCES bindings(git_dir) ON DELETE CASCADE
			);
		`,
	},
}

// migrate applies every migration whose version exceeds the database's
// current schema_version, each inside its own transaction.
func migrate(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("bootstrap schema_version: %w", err)
	}

	current, err := currentVersion(ctx, conn)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d (%s): begin: %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): reset version: %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): record version: %w", m.Version, m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s): commit: %w", m.Version, m.Name, err)
		}
		current = m.Version
	}
	return nil
}

func currentVersion(ctx context.Context, conn *sql.DB) (int, error) {
	var v sql.NullInt64
	err := conn.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return int(v.Int64), nil
}
