// Package store implements the embedded, file-backed cache: the single
// on-disk database every other component reads from and the daemon writes
// to.
//
// Grounded on internal/turso/db/turso.go: embedded SQLite via
// ncruces/go-sqlite3, WAL journal mode so one writer and many readers can
// coexist across processes, a bounded connection pool, and a
// dynamic-WHERE-clause builder for filtered reads (GetReadyTasks generalized
// here to ListIssues).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/localcache/isq/internal/forgeerr"
)

// ErrReadOnly is returned by every mutating method when called on a Store
// opened with OpenReadOnly. Per §4.1, the store file is the daemon's alone
// to write; a CLI process holding a read-only connection that reaches a
// write path is a bug, not a retryable condition.
var ErrReadOnly = errors.New("store: connection is read-only")

// Store wraps the pooled *sql.DB connection to the cache database.
type Store struct {
	conn     *sql.DB
	path     string
	readOnly bool
}

// Open opens (creating if absent) the cache database at path, enables WAL
// mode, and applies any pending migrations. Open grants a writable
// connection; it is meant for the daemon, which holds the store's sole
// writer connection, and for the handful of CLI commands (link, unlink,
// snooze, archive, start/cleanup, queuing a pending op) that own tables
// the daemon does not otherwise touch.
func Open(path string) (*Store, error) {
	return open(path, false)
}

// OpenReadOnly opens the cache database at path for reads only. Every
// mutating method on the returned Store fails with ErrReadOnly. This is
// the connection mode ordinary CLI reads (issue list/show, goal list/show,
// status lookups) use, so a CLI process can never race the daemon's writer
// connection or touch the cache table it does not own.
func OpenReadOnly(path string) (*Store, error) {
	return open(path, true)
}

func open(path string, readOnly bool) (*Store, error) {
	dsn := "file:" + path
	if readOnly {
		dsn += "?mode=ro"
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create cache directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", forgeerr.ErrStoreCorrupt, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, readOnly: readOnly}

	pragmas := []string{"PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"}
	if !readOnly {
		// journal_mode is a schema-level setting a read-only connection
		// cannot (and need not) set; it mirrors whatever the writer
		// connection already established.
		pragmas = append([]string{"PRAGMA journal_mode=WAL"}, pragmas...)
	}
	for _, pragma := range pragmas {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if !readOnly {
		if err := migrate(context.Background(), s.conn); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}

	return s, nil
}

// checkWritable is called at the top of every mutating method.
func (s *Store) checkWritable() error {
	if s.readOnly {
		return ErrReadOnly
	}
	return nil
}

// RawDB exposes the underlying *sql.DB for components (the control channel's
// status query, tests) that need it directly.
func (s *Store) RawDB() *sql.DB { return s.conn }

// Path returns the database file path Open was called with.
func (s *Store) Path() string { return s.path }

// Close checkpoints the write-ahead log and closes the connection. A
// read-only connection skips the checkpoint: it cannot write the WAL file
// and the writer connection already checkpoints on its own Close.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if !s.readOnly {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "store: wal checkpoint warning: %v\n", err)
		}
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// isBusyErr reports whether err is SQLite's "database is locked/busy"
// condition, which callers retry with backoff rather than surfacing as
// fatal.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sub := range []string{"database is locked", "SQLITE_BUSY", "database table is locked"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// withBusyRetry retries fn a bounded number of times on a store-busy
// condition before surfacing forgeerr.ErrStoreBusy, per §4.1's failure
// contract.
func withBusyRetry(ctx context.Context, fn func() error) error {
	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyErr(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", forgeerr.ErrStoreBusy, lastErr)
}
