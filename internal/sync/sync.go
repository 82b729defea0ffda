// Package sync runs the periodic pull loop that mirrors forge state into
// the local store, one tick schedule per binding.
//
// Grounded on internal/turso/sync/syncer.go's resilient per-item error
// containment (a bad file never aborts FullSync) generalized to per-issue
// containment during a tick, and on original_source/src/daemon.rs's
// calculate_backoff and per-repo RepoSyncState for the retry schedule.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/forgeerr"
	"github.com/localcache/isq/internal/store"
)

const (
	baseInterval   = 30 * time.Second
	maxBackoff     = time.Hour
	recentWindow   = 5 * time.Minute
	hourWindow     = time.Hour
	dayWindow      = 24 * time.Hour
	recentTick     = 30 * time.Second
	hourTick       = 2 * time.Minute
	dayTick        = 10 * time.Minute
	staleTick      = time.Hour
)

// TickInterval implements §4.4's recency-scaled scheduling policy for a
// binding last accessed lastAccess ago.
func TickInterval(sinceAccess time.Duration) time.Duration {
	switch {
	case sinceAccess <= recentWindow:
		return recentTick
	case sinceAccess <= hourWindow:
		return hourTick
	case sinceAccess <= dayWindow:
		return dayTick
	default:
		return staleTick
	}
}

// Backoff computes the next retry delay after consecutiveFailures,
// exponential with a cap, jittered ±25%. jitter is injected so tests can
// pass a deterministic value; the daemon passes a math/rand draw.
func Backoff(consecutiveFailures int, jitter float64) time.Duration {
	shift := consecutiveFailures
	if shift > 6 {
		shift = 6
	}
	backoffSecs := int64(baseInterval.Seconds()) << uint(shift)
	capped := time.Duration(backoffSecs) * time.Second
	if capped > maxBackoff {
		capped = maxBackoff
	}

	// jitter is the caller's ±0.25 draw; 0 means no jitter applied.
	jittered := float64(capped) * (1.0 + jitter)
	if jittered < float64(time.Second) {
		jittered = float64(time.Second)
	}
	return time.Duration(jittered)
}

// BindingState tracks per-binding scheduling state the daemon's sync task
// consults between ticks.
type BindingState struct {
	ConsecutiveFailures int
	NextAttempt         time.Time
}

// Engine runs one sync cycle for a single binding against its forge
// adapter, reconciling the cache with ReplaceOpenIssues and reporting
// closed-since-cursor issues via the forge's incremental cursor.
type Engine struct {
	Store  *store.Store
	Logger *log.Logger
}

// RunOnce performs one sync cycle for gitDir's binding. It never aborts on
// a single bad issue — the teacher's syncAllTasks/syncAllDeps containment
// pattern, generalized from "one bad task file" to "one bad issue fetch".
func (e *Engine) RunOnce(ctx context.Context, gitDir string, f forge.Forge, repo string) error {
	syncStartedAt := time.Now()

	st, _, err := e.Store.ReadSyncState(ctx, gitDir)
	if err != nil {
		return fmt.Errorf("sync: read state: %w", err)
	}

	existingHashes, err := e.Store.GetContentHashes(ctx, gitDir)
	if err != nil {
		return fmt.Errorf("sync: get content hashes: %w", err)
	}

	var openKeys []string
	var toUpsert []forge.Issue
	newHashes := make(map[string]string)
	var lastErr error
	seen, failed, skipped := 0, 0, 0

	for issue, err := range f.ListIssues(ctx, repo, st.LastCursor) {
		if err != nil {
			lastErr = err
			seen++
			failed++
			continue
		}
		seen++

		hash, hashErr := contentHash(issue)
		if hashErr != nil {
			return fmt.Errorf("sync: hash issue %s: %w", issue.Key, hashErr)
		}

		if issue.State == forge.StateOpen {
			openKeys = append(openKeys, issue.Key)
			if existingHashes[issue.Key] == hash {
				skipped++
				continue
			}
			toUpsert = append(toUpsert, issue)
			newHashes[issue.Key] = hash
			continue
		}

		if existingHashes[issue.Key] == hash {
			skipped++
			continue
		}
		if upsertErr := e.Store.UpsertIssues(ctx, gitDir, []forge.Issue{issue}, map[string]string{issue.Key: hash}); upsertErr != nil {
			e.logf("failed to mirror closed issue %s: %v", issue.Key, upsertErr)
			lastErr = upsertErr
			failed++
		}
	}

	// §4.4: a key this tick's listing didn't mention is ambiguous — it
	// may have been closed, or deleted, or the listing simply missed it
	// (a partial page under rate-limiting, a cursor edge case). Re-fetch
	// each individually before deciding which.
	vanished, err := e.Store.GetOpenKeysExcept(ctx, gitDir, openKeys)
	if err != nil {
		return fmt.Errorf("sync: list open keys: %w", err)
	}
	for _, key := range vanished {
		issue, getErr := f.GetIssue(ctx, repo, key)
		switch {
		case getErr == nil && issue.State == forge.StateClosed:
			if err := e.Store.MarkClosed(ctx, gitDir, key); err != nil {
				e.logf("failed to mark vanished issue %s closed: %v", key, err)
				openKeys = append(openKeys, key) // keep it open; retry next tick
			}
		case getErr == nil:
			// Still reports open remotely; the listing simply missed it.
			openKeys = append(openKeys, key)
		case errors.Is(getErr, forgeerr.ErrNotFound):
			// Genuinely gone — leave it out of openKeys so
			// ReplaceOpenIssues tombstones it below.
		default:
			// Inconclusive (connectivity, auth, ...): don't tombstone on
			// a hunch, keep it open until a future tick can confirm.
			e.logf("failed to re-fetch vanished issue %s: %v", key, getErr)
			openKeys = append(openKeys, key)
		}
	}

	if err := e.Store.ReplaceOpenIssues(ctx, gitDir, toUpsert, openKeys, newHashes); err != nil {
		return fmt.Errorf("sync: replace open issues: %w", err)
	}

	// Both adapters treat the cursor as an RFC3339 "updated since" filter
	// rather than an opaque pagination token, so advancing it means
	// recording when this tick started. A totally-failed tick leaves the
	// cursor where it was so the next attempt re-covers the same window
	// instead of silently skipping it.
	cursor := st.LastCursor
	if !(seen > 0 && failed == seen) {
		cursor = syncStartedAt.UTC().Format(time.RFC3339)
	}

	rl := f.GetRateLimit()
	newState := store.SyncState{
		GitDir:           gitDir,
		LastSyncedAt:     time.Now(),
		LastCursor:       cursor,
		ObservedRowCount: len(openKeys),
		NeedsReauth:      errors.Is(lastErr, forgeerr.ErrAuthentication),
	}
	if errors.Is(lastErr, forgeerr.ErrRateLimited) {
		resetAt := rl.ResetAt
		newState.RateLimitedUntil = &resetAt
	}
	if err := e.Store.WriteSyncState(ctx, newState); err != nil {
		return fmt.Errorf("sync: write state: %w", err)
	}

	e.logf("synced %d open issues for %s (seen=%d failed=%d skipped=%d)", len(openKeys), repo, seen, failed, skipped)

	if seen > 0 && failed == seen {
		// Every item in the listing failed — treat the tick itself as
		// failed so the caller applies backoff rather than declaring
		// success on an empty, all-errored cycle.
		return lastErr
	}
	return nil
}

func (e *Engine) logf(format string, args ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// contentHash hashes the fields that matter for cache freshness (not the
// struct's zero-value time.Time quirks), so a re-fetch of an unchanged
// remote issue never produces a write.
func contentHash(issue forge.Issue) (string, error) {
	h, err := hashstructure.Hash(struct {
		Title     string
		Body      string
		State     forge.State
		Labels    []forge.Label
		Assignees []string
		UpdatedAt int64
	}{
		Title:     issue.Title,
		Body:      issue.Body,
		State:     issue.State,
		Labels:    issue.Labels,
		Assignees: issue.Assignees,
		UpdatedAt: issue.UpdatedAt.Unix(),
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(h, 16), nil
}
