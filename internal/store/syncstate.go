package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncState is written after every completed sync cycle for a binding.
type SyncState struct {
	GitDir            string
	LastSyncedAt      time.Time
	LastCursor        string
	ObservedRowCount  int
	NeedsReauth       bool
	RateLimitedUntil  *time.Time
}

func (s *Store) ReadSyncState(ctx context.Context, gitDir string) (SyncState, bool, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT git_dir, last_synced_at, last_cursor, observed_row_count, needs_reauth, rate_limited_until
		FROM sync_state WHERE git_dir = ?
	`, gitDir)

	var st SyncState
	var lastSyncedAt sql.NullString
	var needsReauth int
	var rateLimitedUntil sql.NullString
	err := row.Scan(&st.GitDir, &lastSyncedAt, &st.LastCursor, &st.ObservedRowCount, &needsReauth, &rateLimitedUntil)
	if err == sql.ErrNoRows {
		return SyncState{}, false, nil
	}
	if err != nil {
		return SyncState{}, false, fmt.Errorf("read sync state: %w", err)
	}
	if lastSyncedAt.Valid {
		st.LastSyncedAt, _ = time.Parse(time.RFC3339, lastSyncedAt.String)
	}
	st.NeedsReauth = needsReauth != 0
	if rateLimitedUntil.Valid {
		t, _ := time.Parse(time.RFC3339, rateLimitedUntil.String)
		st.RateLimitedUntil = &t
	}
	return st, true, nil
}

func (s *Store) WriteSyncState(ctx context.Context, st SyncState) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		var rateLimitedUntil interface{}
		if st.RateLimitedUntil != nil {
			rateLimitedUntil = st.RateLimitedUntil.UTC().Format(time.RFC3339)
		}
		_, err := s.conn.ExecContext(ctx, `
			INSERT INTO sync_state (git_dir, last_synced_at, last_cursor, observed_row_count, needs_reauth, rate_limited_until)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(git_dir) DO UPDATE SET
				last_synced_at = excluded.last_synced_at,
				last_cursor = excluded.last_cursor,
				observed_row_count = excluded.observed_row_count,
				needs_reauth = excluded.needs_reauth,
				rate_limited_until = excluded.rate_limited_until
		`, st.GitDir, st.LastSyncedAt.UTC().Format(time.RFC3339), st.LastCursor, st.ObservedRowCount, boolToInt(st.NeedsReauth), rateLimitedUntil)
		if err != nil {
			return fmt.Errorf("write sync state: %w", err)
		}
		return nil
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
