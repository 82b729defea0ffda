package main

import (
	"os"
	"path/filepath"

	"github.com/localcache/isq/internal/store"
)

// cacheDir returns (creating if needed) the per-user cache directory §6
// names: cache.db, cache.db-wal/-shm, daemon.pid, daemon.log, and the
// control socket all live under it.
func cacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "isq")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func configDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "isq")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func storePath() (string, error) {
	dir, err := cacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache.db"), nil
}

func socketPath() (string, error) {
	dir, err := cacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.sock"), nil
}

func pidPath() (string, error) {
	dir, err := cacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.pid"), nil
}

func logPath() (string, error) {
	dir, err := cacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.log"), nil
}

func configPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// openStore opens a read-only connection to the cache database at its
// standard location. Per §4.1, any process may read the store but only the
// daemon writes it; this is the connection every read-path command
// (issue/goal list and show, status lookups, resolving the current
// binding) uses.
func openStore() (*store.Store, error) {
	path, err := storePath()
	if err != nil {
		return nil, err
	}
	return store.OpenReadOnly(path)
}

// openWriteStore opens a writable connection, creating the cache directory
// and running migrations as needed. It is reserved for the daemon's own
// writer connection and the handful of CLI commands that own tables the
// daemon does not otherwise touch: link/unlink (bindings), snooze/archive
// (local_state), start/cleanup (worktree_links), and queuing a pending op
// (pending_ops) when a direct-mode write falls back to queued mode.
func openWriteStore() (*store.Store, error) {
	path, err := storePath()
	if err != nil {
		return nil, err
	}
	return store.Open(path)
}
