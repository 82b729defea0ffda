package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/localcache/isq/internal/forge"
)

// decodeLabels accepts both the structured encoding and the
// flat-string-list encoding older cache rows may carry. UpsertIssues
// upgrades every row it touches to the structured encoding; readers accept
// either shape transparently.
func decodeLabels(raw string) ([]forge.Label, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil, nil
	}

	var structured []forge.Label
	if err := json.Unmarshal([]byte(raw), &structured); err == nil {
		return structured, nil
	}

	// Legacy flat-string-list encoding: upgrade to {name, color: null} on
	// read so every caller sees the structured shape.
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("decode labels: unrecognized encoding: %w", err)
	}
	out := make([]forge.Label, 0, len(names))
	for _, n := range names {
		out = append(out, forge.Label{Name: n, Color: nil})
	}
	return out, nil
}

func encodeLabels(labels []forge.Label) (string, error) {
	if labels == nil {
		labels = []forge.Label{}
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("encode labels: %w", err)
	}
	return string(b), nil
}

// contentHash is imported lazily by callers (internal/sync) via
// hashstructure; the store only persists whatever hash string it is given
// so it can skip no-op upserts without recomputing hashes on every read.

// UpsertIssues writes each issue's full row, upgrading label encoding as it
// goes. Existing rows for keys not present in issues are left untouched —
// callers needing replace-open semantics use ReplaceOpenIssues instead.
func (s *Store) UpsertIssues(ctx context.Context, gitDir string, issues []forge.Issue, contentHashes map[string]string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, issue := range issues {
			if err := upsertIssueTx(ctx, tx, gitDir, issue, contentHashes[issue.Key]); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func upsertIssueTx(ctx context.Context, tx *sql.Tx, gitDir string, issue forge.Issue, contentHash string) error {
	labelsJSON, err := encodeLabels(issue.Labels)
	if err != nil {
		return err
	}
	assigneesJSON, err := json.Marshal(issue.Assignees)
	if err != nil {
		return fmt.Errorf("encode assignees: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO issues (
			git_dir, key, native_id, title, body, state, author,
			labels, assignees, created_at, updated_at, url, content_hash, tombstone
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(git_dir, key) DO UPDATE SET
			native_id = excluded.native_id,
			title = excluded.title,
			body = excluded.body,
			state = excluded.state,
			author = excluded.author,
			labels = excluded.labels,
			assignees = excluded.assignees,
			updated_at = excluded.updated_at,
			url = excluded.url,
			content_hash = excluded.content_hash,
			tombstone = 0
	`,
		gitDir, issue.Key, issue.NativeID, issue.Title, issue.Body, string(issue.State), issue.Author,
		labelsJSON, string(assigneesJSON),
		issue.CreatedAt.UTC().Format(time.RFC3339), issue.UpdatedAt.UTC().Format(time.RFC3339),
		issue.URL, contentHash,
	)
	if err != nil {
		return fmt.Errorf("upsert issue %s: %w", issue.Key, err)
	}
	return nil
}

// ReplaceOpenIssues performs the sync engine's reconciliation: every issue
// in toUpsert is written (callers pre-filter this to issues whose content
// hash actually changed, via GetContentHashes, to skip no-op writes), every
// key in openKeys is recorded as currently open regardless of whether its
// row needed a write, and any row currently marked open whose key is absent
// from openKeys is tombstoned (the caller is expected to have already
// re-fetched such rows individually to confirm they were closed or deleted
// before calling this, per §4.4).
func (s *Store) ReplaceOpenIssues(ctx context.Context, gitDir string, toUpsert []forge.Issue, openKeys []string, contentHashes map[string]string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, issue := range toUpsert {
			if err := upsertIssueTx(ctx, tx, gitDir, issue, contentHashes[issue.Key]); err != nil {
				return err
			}
		}

		present := make(map[string]bool, len(openKeys))
		for _, key := range openKeys {
			present[key] = true
		}

		rows, err := tx.QueryContext(ctx, `SELECT key FROM issues WHERE git_dir = ? AND state = 'open' AND tombstone = 0`, gitDir)
		if err != nil {
			return fmt.Errorf("list open keys: %w", err)
		}
		var stale []string
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return err
			}
			if !present[key] {
				stale = append(stale, key)
			}
		}
		rows.Close()

		for _, key := range stale {
			if _, err := tx.ExecContext(ctx, `UPDATE issues SET tombstone = 1 WHERE git_dir = ? AND key = ?`, gitDir, key); err != nil {
				return fmt.Errorf("tombstone %s: %w", key, err)
			}
		}

		return tx.Commit()
	})
}

// GetOpenKeysExcept returns every key currently stored as open and
// non-tombstoned in gitDir whose key is not in keep. internal/sync calls
// this ahead of ReplaceOpenIssues to find the previously-open keys a fresh
// listing no longer mentions, so each can be re-fetched individually and
// disambiguated between closed and deleted before the row is touched, per
// §4.4.
func (s *Store) GetOpenKeysExcept(ctx context.Context, gitDir string, keep []string) ([]string, error) {
	present := make(map[string]bool, len(keep))
	for _, key := range keep {
		present[key] = true
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT key FROM issues WHERE git_dir = ? AND state = 'open' AND tombstone = 0`, gitDir)
	if err != nil {
		return nil, fmt.Errorf("get open keys: %w", err)
	}
	defer rows.Close()

	var vanished []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if !present[key] {
			vanished = append(vanished, key)
		}
	}
	return vanished, rows.Err()
}

// GetContentHashes returns the stored content_hash for every non-tombstoned
// issue in gitDir, keyed by issue key. internal/sync compares this against
// freshly computed hashstructure hashes to skip no-op upserts.
func (s *Store) GetContentHashes(ctx context.Context, gitDir string) (map[string]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key, content_hash FROM issues WHERE git_dir = ? AND tombstone = 0`, gitDir)
	if err != nil {
		return nil, fmt.Errorf("get content hashes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key string
		var hash sql.NullString
		if err := rows.Scan(&key, &hash); err != nil {
			return nil, err
		}
		out[key] = hash.String
	}
	return out, rows.Err()
}

// MarkClosed marks a single issue's row closed without a full upsert. Used
// when an individually-refetched formerly-open issue turns out to be closed
// rather than deleted.
func (s *Store) MarkClosed(ctx context.Context, gitDir, key string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.conn.ExecContext(ctx, `UPDATE issues SET state = 'closed', updated_at = ? WHERE git_dir = ? AND key = ?`,
			time.Now().UTC().Format(time.RFC3339), gitDir, key)
		return err
	})
}

// IssueFilter narrows ListIssues. All filtering happens in the store, never
// at the adapter, per §4.1.
type IssueFilter struct {
	State         string // "open", "closed", or "" for all
	Label         string // exact match against the label list
	Assignee      string // exact match against the assignee list
	TitleContains string
	IncludeTombstoned bool
}

func (s *Store) ListIssues(ctx context.Context, gitDir string, filter IssueFilter) ([]forge.Issue, error) {
	conditions := []string{"git_dir = ?"}
	args := []interface{}{gitDir}

	if !filter.IncludeTombstoned {
		conditions = append(conditions, "tombstone = 0")
	}
	if filter.State != "" && filter.State != "all" {
		conditions = append(conditions, "state = ?")
		args = append(args, filter.State)
	}
	if filter.TitleContains != "" {
		conditions = append(conditions, "title LIKE ?")
		args = append(args, "%"+filter.TitleContains+"%")
	}

	query := `
		SELECT key, native_id, title, body, state, author, labels, assignees,
		       created_at, updated_at, url
		FROM issues
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at ASC
	`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	issues, err := scanIssues(rows)
	if err != nil {
		return nil, err
	}

	// Label and assignee filters apply against the decoded structured
	// value, not the raw JSON, so they are applied in Go rather than SQL.
	if filter.Label == "" && filter.Assignee == "" {
		return issues, nil
	}
	filtered := issues[:0]
	for _, issue := range issues {
		if filter.Label != "" && !hasLabel(issue.Labels, filter.Label) {
			continue
		}
		if filter.Assignee != "" && !hasAssignee(issue.Assignees, filter.Assignee) {
			continue
		}
		filtered = append(filtered, issue)
	}
	return filtered, nil
}

func hasLabel(labels []forge.Label, name string) bool {
	for _, l := range labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

func hasAssignee(assignees []string, handle string) bool {
	for _, a := range assignees {
		if a == handle {
			return true
		}
	}
	return false
}

func (s *Store) GetIssue(ctx context.Context, gitDir, key string) (forge.Issue, bool, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT key, native_id, title, body, state, author, labels, assignees,
		       created_at, updated_at, url
		FROM issues WHERE git_dir = ? AND key = ? AND tombstone = 0
	`, gitDir, key)
	issue, err := scanIssueRow(row)
	if err == sql.ErrNoRows {
		return forge.Issue{}, false, nil
	}
	if err != nil {
		return forge.Issue{}, false, err
	}
	return issue, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIssueRow(row rowScanner) (forge.Issue, error) {
	var (
		key, nativeID, title, body, state, author, labelsRaw, assigneesRaw, createdAt, updatedAt, url string
	)
	if err := row.Scan(&key, &nativeID, &title, &body, &state, &author, &labelsRaw, &assigneesRaw, &createdAt, &updatedAt, &url); err != nil {
		return forge.Issue{}, err
	}
	return buildIssue(key, nativeID, title, body, state, author, labelsRaw, assigneesRaw, createdAt, updatedAt, url)
}

func scanIssues(rows *sql.Rows) ([]forge.Issue, error) {
	var out []forge.Issue
	for rows.Next() {
		issue, err := scanIssueRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}

func buildIssue(key, nativeID, title, body, state, author, labelsRaw, assigneesRaw, createdAt, updatedAt, url string) (forge.Issue, error) {
	labels, err := decodeLabels(labelsRaw)
	if err != nil {
		return forge.Issue{}, fmt.Errorf("issue %s: %w", key, err)
	}
	var assignees []string
	if err := json.Unmarshal([]byte(assigneesRaw), &assignees); err != nil {
		return forge.Issue{}, fmt.Errorf("issue %s: decode assignees: %w", key, err)
	}
	createdTime, _ := time.Parse(time.RFC3339, createdAt)
	updatedTime, _ := time.Parse(time.RFC3339, updatedAt)
	return forge.Issue{
		Key:       key,
		NativeID:  nativeID,
		Title:     title,
		Body:      body,
		State:     forge.State(state),
		Author:    author,
		Labels:    labels,
		Assignees: assignees,
		CreatedAt: createdTime,
		UpdatedAt: updatedTime,
		URL:       url,
	}, nil
}
