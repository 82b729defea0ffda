package sync

import (
	"context"
	"iter"
	"path/filepath"
	"testing"
	"time"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/forgeerr"
	"github.com/localcache/isq/internal/store"
)

func TestTickInterval(t *testing.T) {
	cases := []struct {
		since time.Duration
		want  time.Duration
	}{
		{time.Minute, recentTick},
		{30 * time.Minute, hourTick},
		{12 * time.Hour, dayTick},
		{48 * time.Hour, staleTick},
	}
	for _, tc := range cases {
		if got := TickInterval(tc.since); got != tc.want {
			t.Errorf("TickInterval(%v) = %v, want %v", tc.since, got, tc.want)
		}
	}
}

func TestBackoff_ExponentialAndCapped(t *testing.T) {
	first := Backoff(0, 0)
	if first != baseInterval {
		t.Errorf("Backoff(0,0) = %v, want %v", first, baseInterval)
	}

	second := Backoff(1, 0)
	if second != 2*baseInterval {
		t.Errorf("Backoff(1,0) = %v, want %v", second, 2*baseInterval)
	}

	huge := Backoff(20, 0)
	if huge != maxBackoff {
		t.Errorf("Backoff(20,0) = %v, want cap %v", huge, maxBackoff)
	}
}

type fakeForge struct {
	issues  []forge.Issue
	allFail bool

	// getIssueResults/getIssueErrs let a test script GetIssue's response
	// per key, for exercising §4.4's re-fetch disambiguation.
	getIssueResults map[string]forge.Issue
	getIssueErrs    map[string]error
}

func (f *fakeForge) Kind() forge.Kind { return forge.KindGitHub }
func (f *fakeForge) AuthProbe(ctx context.Context) (forge.Identity, error) {
	return forge.Identity{}, nil
}
func (f *fakeForge) ListIssues(ctx context.Context, repo, sinceCursor string) iter.Seq2[forge.Issue, error] {
	return func(yield func(forge.Issue, error) bool) {
		if f.allFail {
			yield(forge.Issue{}, context.DeadlineExceeded)
			return
		}
		for _, iss := range f.issues {
			if !yield(iss, nil) {
				return
			}
		}
	}
}
func (f *fakeForge) GetIssue(ctx context.Context, repo, key string) (forge.Issue, error) {
	if err, ok := f.getIssueErrs[key]; ok {
		return forge.Issue{}, err
	}
	if iss, ok := f.getIssueResults[key]; ok {
		return iss, nil
	}
	return forge.Issue{}, nil
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
	return "", nil
}
func (f *fakeForge) ListAllComments(ctx context.Context, repo string, since time.Time) ([]forge.Comment, error) {
	return nil, nil
}
func (f *fakeForge) ListGoals(ctx context.Context, repo string, includeClosed bool) ([]forge.Goal, error) {
	return nil, nil
}
func (f *fakeForge) CreateGoal(ctx context.Context, repo, name, body string, targetDate *time.Time) (forge.Goal, error) {
	return forge.Goal{}, nil
}
func (f *fakeForge) CloseGoal(ctx context.Context, repo, goalID string) error { return nil }
func (f *fakeForge) AssignToGoal(ctx context.Context, repo, issueKey, goalID string) error {
	return nil
}
func (f *fakeForge) GetRateLimit() forge.RateLimit { return forge.RateLimit{} }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunOnce_AdvancesCursorOnSuccess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gitDir := "/repo/.git"
	if err := s.PutBinding(ctx, store.Binding{GitDir: gitDir, ForgeKind: forge.KindGitHub, Repo: "a/b", LinkedAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}

	f := &fakeForge{issues: []forge.Issue{
		{Key: "1", Title: "open one", State: forge.StateOpen, UpdatedAt: time.Now()},
	}}
	e := &Engine{Store: s}
	if err := e.RunOnce(ctx, gitDir, f, "a/b"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	st, _, err := s.ReadSyncState(ctx, gitDir)
	if err != nil {
		t.Fatalf("ReadSyncState: %v", err)
	}
	if st.LastCursor == "" {
		t.Fatal("LastCursor is empty after a successful tick, want it advanced")
	}
	if _, err := time.Parse(time.RFC3339, st.LastCursor); err != nil {
		t.Errorf("LastCursor = %q is not an RFC3339 timestamp: %v", st.LastCursor, err)
	}
}

func TestRunOnce_LeavesCursorOnTotalFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gitDir := "/repo/.git"
	if err := s.PutBinding(ctx, store.Binding{GitDir: gitDir, ForgeKind: forge.KindGitHub, Repo: "a/b", LinkedAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}

	if err := s.WriteSyncState(ctx, store.SyncState{GitDir: gitDir, LastCursor: "2020-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("WriteSyncState: %v", err)
	}

	f := &fakeForge{issues: []forge.Issue{{Key: "1"}}, allFail: true}
	e := &Engine{Store: s}
	if err := e.RunOnce(ctx, gitDir, f, "a/b"); err == nil {
		t.Fatal("expected RunOnce to report the tick as failed")
	}

	st, _, err := s.ReadSyncState(ctx, gitDir)
	if err != nil {
		t.Fatalf("ReadSyncState: %v", err)
	}
	if st.LastCursor != "2020-01-01T00:00:00Z" {
		t.Errorf("LastCursor = %q, want it unchanged after a total failure", st.LastCursor)
	}
}

func seedOpenIssue(t *testing.T, s *store.Store, gitDir, key string) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertIssues(ctx, gitDir, []forge.Issue{{Key: key, Title: "t", State: forge.StateOpen, UpdatedAt: time.Now()}}, map[string]string{key: "h"}); err != nil {
		t.Fatalf("seed issue %s: %v", key, err)
	}
}

func TestRunOnce_VanishedKeyReFetchedClosed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gitDir := "/repo/.git"
	if err := s.PutBinding(ctx, store.Binding{GitDir: gitDir, ForgeKind: forge.KindGitHub, Repo: "a/b", LinkedAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}
	seedOpenIssue(t, s, gitDir, "vanished")

	f := &fakeForge{
		issues: nil, // the listing no longer mentions "vanished"
		getIssueResults: map[string]forge.Issue{
			"vanished": {Key: "vanished", State: forge.StateClosed, UpdatedAt: time.Now()},
		},
	}
	e := &Engine{Store: s}
	if err := e.RunOnce(ctx, gitDir, f, "a/b"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	iss, ok, err := s.GetIssue(ctx, gitDir, "vanished")
	if err != nil || !ok {
		t.Fatalf("GetIssue(vanished) ok=%v err=%v, want a non-tombstoned row", ok, err)
	}
	if iss.State != forge.StateClosed {
		t.Errorf("state = %q, want closed", iss.State)
	}
}

func TestRunOnce_VanishedKeyReFetchedDeleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gitDir := "/repo/.git"
	if err := s.PutBinding(ctx, store.Binding{GitDir: gitDir, ForgeKind: forge.KindGitHub, Repo: "a/b", LinkedAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}
	seedOpenIssue(t, s, gitDir, "gone")

	f := &fakeForge{
		getIssueErrs: map[string]error{"gone": forgeerr.ErrNotFound},
	}
	e := &Engine{Store: s}
	if err := e.RunOnce(ctx, gitDir, f, "a/b"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if _, ok, err := s.GetIssue(ctx, gitDir, "gone"); err != nil || ok {
		t.Fatalf("GetIssue(gone) ok=%v err=%v, want tombstoned (not found)", ok, err)
	}
}

func TestRunOnce_VanishedKeyReFetchInconclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	gitDir := "/repo/.git"
	if err := s.PutBinding(ctx, store.Binding{GitDir: gitDir, ForgeKind: forge.KindGitHub, Repo: "a/b", LinkedAt: time.Now()}); err != nil {
		t.Fatalf("PutBinding: %v", err)
	}
	seedOpenIssue(t, s, gitDir, "flaky")

	f := &fakeForge{
		getIssueErrs: map[string]error{"flaky": context.DeadlineExceeded},
	}
	e := &Engine{Store: s}
	if err := e.RunOnce(ctx, gitDir, f, "a/b"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	iss, ok, err := s.GetIssue(ctx, gitDir, "flaky")
	if err != nil || !ok {
		t.Fatalf("GetIssue(flaky) ok=%v err=%v, want a non-tombstoned row", ok, err)
	}
	if iss.State != forge.StateOpen {
		t.Errorf("state = %q, want open (retained pending a future tick)", iss.State)
	}
}

func TestBackoff_Jitter(t *testing.T) {
	up := Backoff(0, 0.25)
	down := Backoff(0, -0.25)
	if up <= baseInterval {
		t.Errorf("positive jitter should increase delay, got %v vs base %v", up, baseInterval)
	}
	if down >= baseInterval {
		t.Errorf("negative jitter should decrease delay, got %v vs base %v", down, baseInterval)
	}
}
