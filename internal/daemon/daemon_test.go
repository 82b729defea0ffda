package daemon

import (
	"context"
	"iter"
	"path/filepath"
	"testing"
	"time"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/ipc"
	"github.com/localcache/isq/internal/store"
)

const testForgeKind forge.Kind = "daemon-test-forge"

func init() {
	forge.Register(testForgeKind, func(cfg forge.Config) (forge.Forge, error) {
		return &fakeForge{}, nil
	})
}

type fakeForge struct {
	issue forge.Issue
	goals []forge.Goal
}

func (f *fakeForge) Kind() forge.Kind { return testForgeKind }
func (f *fakeForge) AuthProbe(ctx context.Context) (forge.Identity, error) {
	return forge.Identity{Handle: "tester"}, nil
}
func (f *fakeForge) ListIssues(ctx context.Context, repo, sinceCursor string) iter.Seq2[forge.Issue, error] {
	return func(yield func(forge.Issue, error) bool) {}
}
func (f *fakeForge) GetIssue(ctx context.Context, repo, key string) (forge.Issue, error) {
	if f.issue.Key != "" {
		return f.issue, nil
	}
	return forge.Issue{Key: key}, nil
}
func (f *fakeForge) CreateIssue(ctx context.Context, repo string, req forge.CreateIssueRequest) (forge.Issue, error) {
	return forge.Issue{}, nil
}
func (f *fakeForge) UpdateIssueState(ctx context.Context, repo, key string, state forge.State) error {
	return nil
}
func (f *fakeForge) AddLabel(ctx context.Context, repo, key, name string) error    { return nil }
func (f *fakeForge) RemoveLabel(ctx context.Context, repo, key, name string) error { return nil }
func (f *fakeForge) Assign(ctx context.Context, repo, key, handle string) error    { return nil }
func (f *fakeForge) Comment(ctx context.Context, repo, key, body string) (string, error) {
	return "c1", nil
}
func (f *fakeForge) ListAllComments(ctx context.Context, repo string, since time.Time) ([]forge.Comment, error) {
	return nil, nil
}
func (f *fakeForge) ListGoals(ctx context.Context, repo string, includeClosed bool) ([]forge.Goal, error) {
	return f.goals, nil
}
func (f *fakeForge) CreateGoal(ctx context.Context, repo, name, body string, targetDate *time.Time) (forge.Goal, error) {
	return forge.Goal{}, nil
}
func (f *fakeForge) CloseGoal(ctx context.Context, repo, goalID string) error { return nil }
func (f *fakeForge) AssignToGoal(ctx context.Context, repo, issueKey, goalID string) error {
	return nil
}
func (f *fakeForge) GetRateLimit() forge.RateLimit { return forge.RateLimit{Remaining: 5000} }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testDaemon(t *testing.T, s *store.Store) *Daemon {
	t.Helper()
	cfg := Config{
		Store:      s,
		SocketPath: filepath.Join(t.TempDir(), "control.sock"),
		ResolveToken: func(handle string) (string, error) {
			return "fake-token", nil
		},
	}
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	t.Cleanup(d.cancel)
	return d
}

func TestReconcileBindings_StartsAndStopsPerBinding(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gitDir := "/repo/.git"
	if err := s.PutBinding(ctx, store.Binding{GitDir: gitDir, ForgeKind: testForgeKind, Repo: "a/b", TokenHandle: "h", LinkedAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}

	d := testDaemon(t, s)
	if err := d.reconcileBindings(); err != nil {
		t.Fatalf("reconcileBindings: %v", err)
	}

	d.mu.Lock()
	_, running := d.bindingCancel[gitDir]
	d.mu.Unlock()
	if !running {
		t.Fatal("expected a running goroutine cancel func for the bound directory")
	}

	if err := s.DeleteBinding(ctx, gitDir, false); err != nil {
		t.Fatalf("DeleteBinding: %v", err)
	}
	if err := d.reconcileBindings(); err != nil {
		t.Fatalf("reconcileBindings: %v", err)
	}
	d.mu.Lock()
	_, stillRunning := d.bindingCancel[gitDir]
	d.mu.Unlock()
	if stillRunning {
		t.Fatal("expected the cancel func to be removed once the binding is gone")
	}
}

func TestBuildStatus_ReportsPerBindingCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gitDir := "/repo/.git"
	if err := s.PutBinding(ctx, store.Binding{GitDir: gitDir, ForgeKind: testForgeKind, Repo: "a/b", TokenHandle: "h", LinkedAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}
	if _, err := s.EnqueueOp(ctx, gitDir, store.OpComment, `{"issue_key":"1","body":"hi"}`); err != nil {
		t.Fatalf("EnqueueOp: %v", err)
	}

	d := testDaemon(t, s)
	result, err := d.buildStatus(ctx)
	if err != nil {
		t.Fatalf("buildStatus: %v", err)
	}
	if len(result.Bindings) != 1 {
		t.Fatalf("len(Bindings) = %d, want 1", len(result.Bindings))
	}
	if result.Bindings[0].PendingOps != 1 {
		t.Errorf("PendingOps = %d, want 1", result.Bindings[0].PendingOps)
	}
}

func TestSyncNow_UnknownBindingErrors(t *testing.T) {
	s := openTestStore(t)
	d := testDaemon(t, s)
	if _, err := d.syncNow(context.Background(), "/nope/.git"); err == nil {
		t.Fatal("expected error for an unbound directory")
	}
}

func TestApplyEnqueueHint_RefreshesIssue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gitDir := "/repo/.git"
	if err := s.PutBinding(ctx, store.Binding{GitDir: gitDir, ForgeKind: testForgeKind, Repo: "a/b", TokenHandle: "h", LinkedAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}

	d := testDaemon(t, s)
	if err := d.applyEnqueueHint(ctx, ipc.Request{GitDir: gitDir, IssueKey: "ISQ-1"}); err != nil {
		t.Fatalf("applyEnqueueHint: %v", err)
	}

	iss, ok, err := s.GetIssue(ctx, gitDir, "ISQ-1")
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if !ok {
		t.Fatal("expected the hinted issue to land in the cache")
	}
	if iss.Key != "ISQ-1" {
		t.Errorf("Key = %q, want ISQ-1", iss.Key)
	}
}

func TestApplyEnqueueHint_RefreshesGoals(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gitDir := "/repo/.git"
	if err := s.PutBinding(ctx, store.Binding{GitDir: gitDir, ForgeKind: testForgeKind, Repo: "a/b", TokenHandle: "h", LinkedAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}

	d := testDaemon(t, s)
	if err := d.applyEnqueueHint(ctx, ipc.Request{GitDir: gitDir, RefreshGoals: true}); err != nil {
		t.Fatalf("applyEnqueueHint: %v", err)
	}

	goals, err := s.ListGoals(ctx, gitDir, true)
	if err != nil {
		t.Fatalf("ListGoals: %v", err)
	}
	if len(goals) != 0 {
		t.Errorf("len(goals) = %d, want 0 (fakeForge.goals is empty but the hint must still succeed)", len(goals))
	}
}

func TestApplyEnqueueHint_UnknownBindingErrors(t *testing.T) {
	s := openTestStore(t)
	d := testDaemon(t, s)
	if err := d.applyEnqueueHint(context.Background(), ipc.Request{GitDir: "/nope/.git", IssueKey: "x"}); err == nil {
		t.Fatal("expected error for an unbound directory")
	}
}
