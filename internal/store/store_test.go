package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/localcache/isq/internal/forge"
)

func testDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "cache.db")
}

func TestOpen_CreatesSchema(t *testing.T) {
	s, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"bindings", "issues", "pending_ops", "sync_state", "worktree_links", "goals", "local_state"}
	for _, table := range tables {
		var count int
		err := s.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := testDBPath(t)
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	v, err := currentVersion(context.Background(), s2.conn)
	if err != nil {
		t.Fatalf("currentVersion: %v", err)
	}
	if v != migrations[len(migrations)-1].Version {
		t.Errorf("schema version = %d, want %d", v, migrations[len(migrations)-1].Version)
	}
}

func TestBindingRoundTrip(t *testing.T) {
	s, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	b := Binding{
		GitDir:      "/repo/.git",
		ForgeKind:   forge.KindGitHub,
		Repo:        "acme/widgets",
		TokenHandle: "isq/acme-widgets",
		LinkedAt:    time.Now().Truncate(time.Second),
	}
	if err := s.PutBinding(ctx, b); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}

	got, ok, err := s.GetBinding(ctx, b.GitDir)
	if err != nil || !ok {
		t.Fatalf("GetBinding: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(b.Repo, got.Repo); diff != "" {
		t.Errorf("repo mismatch: %s", diff)
	}
	if got.ForgeKind != b.ForgeKind {
		t.Errorf("forge kind = %s, want %s", got.ForgeKind, b.ForgeKind)
	}
}

func TestLabelRoundTrip_StructuredAndLegacy(t *testing.T) {
	s, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	gitDir := "/repo/.git"
	must(t, s.PutBinding(ctx, Binding{GitDir: gitDir, ForgeKind: forge.KindGitHub, Repo: "a/b", TokenHandle: "h", LinkedAt: time.Now()}))

	color := "ff0000"
	issue := forge.Issue{
		Key:   "1",
		Title: "bug",
		State: forge.StateOpen,
		Labels: []forge.Label{
			{Name: "bug", Color: &color},
			{Name: "p1", Color: nil},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	must(t, s.UpsertIssues(ctx, gitDir, []forge.Issue{issue}, nil))

	got, ok, err := s.GetIssue(ctx, gitDir, "1")
	if err != nil || !ok {
		t.Fatalf("GetIssue: ok=%v err=%v", ok, err)
	}
	if diff := cmp.Diff(issue.Labels, got.Labels); diff != "" {
		t.Errorf("structured label round-trip mismatch: %s", diff)
	}

	// Simulate a legacy flat-string-list row written by an older client.
	_, err = s.conn.ExecContext(ctx, `UPDATE issues SET labels = ? WHERE git_dir = ? AND key = ?`, `["legacy-bug","legacy-p1"]`, gitDir, "1")
	if err != nil {
		t.Fatalf("simulate legacy row: %v", err)
	}
	got, ok, err = s.GetIssue(ctx, gitDir, "1")
	if err != nil || !ok {
		t.Fatalf("GetIssue after legacy write: ok=%v err=%v", ok, err)
	}
	want := []forge.Label{{Name: "legacy-bug", Color: nil}, {Name: "legacy-p1", Color: nil}}
	if diff := cmp.Diff(want, got.Labels); diff != "" {
		t.Errorf("legacy label upgrade mismatch: %s", diff)
	}
}

func TestListIssues_Filters(t *testing.T) {
	s, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	gitDir := "/repo/.git"
	must(t, s.PutBinding(ctx, Binding{GitDir: gitDir, ForgeKind: forge.KindGitHub, Repo: "a/b", TokenHandle: "h", LinkedAt: time.Now()}))

	issues := []forge.Issue{
		{Key: "1", Title: "fix login", State: forge.StateOpen, Labels: []forge.Label{{Name: "bug"}}, Assignees: []string{"alice"}, CreatedAt: time.Now(), UpdatedAt: time.Now()},
		{Key: "2", Title: "add docs", State: forge.StateClosed, Labels: []forge.Label{{Name: "docs"}}, Assignees: []string{"bob"}, CreatedAt: time.Now(), UpdatedAt: time.Now()},
		{Key: "3", Title: "fix crash", State: forge.StateClosed, Labels: []forge.Label{{Name: "bug"}}, Assignees: []string{"alice"}, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}
	must(t, s.UpsertIssues(ctx, gitDir, issues, nil))

	got, err := s.ListIssues(ctx, gitDir, IssueFilter{State: "closed", Label: "bug", Assignee: "alice"})
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(got) != 1 || got[0].Key != "3" {
		t.Fatalf("ListIssues filtered = %+v, want only key 3", got)
	}
}

func TestReplaceOpenIssues_TombstonesMissing(t *testing.T) {
	s, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	gitDir := "/repo/.git"
	must(t, s.PutBinding(ctx, Binding{GitDir: gitDir, ForgeKind: forge.KindGitHub, Repo: "a/b", TokenHandle: "h", LinkedAt: time.Now()}))

	must(t, s.UpsertIssues(ctx, gitDir, []forge.Issue{
		{Key: "1", Title: "a", State: forge.StateOpen, CreatedAt: time.Now(), UpdatedAt: time.Now()},
		{Key: "2", Title: "b", State: forge.StateOpen, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}, nil))

	must(t, s.ReplaceOpenIssues(ctx, gitDir, []forge.Issue{
		{Key: "1", Title: "a", State: forge.StateOpen, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}, []string{"1"}, nil))

	got, err := s.ListIssues(ctx, gitDir, IssueFilter{State: "all"})
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(got) != 1 || got[0].Key != "1" {
		t.Fatalf("expected only key 1 to remain visible, got %+v", got)
	}
}

func TestGetOpenKeysExcept(t *testing.T) {
	s, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	gitDir := "/repo/.git"
	must(t, s.PutBinding(ctx, Binding{GitDir: gitDir, ForgeKind: forge.KindGitHub, Repo: "a/b", TokenHandle: "h", LinkedAt: time.Now()}))

	must(t, s.UpsertIssues(ctx, gitDir, []forge.Issue{
		{Key: "1", Title: "a", State: forge.StateOpen, CreatedAt: time.Now(), UpdatedAt: time.Now()},
		{Key: "2", Title: "b", State: forge.StateOpen, CreatedAt: time.Now(), UpdatedAt: time.Now()},
		{Key: "3", Title: "c", State: forge.StateClosed, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}, nil))

	got, err := s.GetOpenKeysExcept(ctx, gitDir, []string{"1"})
	if err != nil {
		t.Fatalf("GetOpenKeysExcept: %v", err)
	}
	if len(got) != 1 || got[0] != "2" {
		t.Fatalf("GetOpenKeysExcept = %v, want [2] (key 1 kept, key 3 already closed)", got)
	}
}

func TestPendingOps_InsertionOrderReplay(t *testing.T) {
	s, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	gitDir := "/repo/.git"
	must(t, s.PutBinding(ctx, Binding{GitDir: gitDir, ForgeKind: forge.KindGitHub, Repo: "a/b", TokenHandle: "h", LinkedAt: time.Now()}))

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := s.EnqueueOp(ctx, gitDir, OpComment, `{"body":"hi"}`)
		if err != nil {
			t.Fatalf("EnqueueOp: %v", err)
		}
		ids = append(ids, id)
	}

	ops, err := s.PeekOps(ctx, gitDir)
	if err != nil {
		t.Fatalf("PeekOps: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("len(ops) = %d, want 3", len(ops))
	}
	for i, op := range ops {
		if op.ID != ids[i] {
			t.Errorf("ops[%d].ID = %d, want %d (insertion order)", i, op.ID, ids[i])
		}
	}

	must(t, s.DeleteOp(ctx, ids[0]))
	n, err := s.CountPendingOps(ctx, gitDir)
	if err != nil {
		t.Fatalf("CountPendingOps: %v", err)
	}
	if n != 2 {
		t.Errorf("CountPendingOps = %d, want 2", n)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
