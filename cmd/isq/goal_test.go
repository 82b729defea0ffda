package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/localcache/isq/internal/forge"
)

func TestRunGoalList_NotLinked(t *testing.T) {
	isolateDirs(t)
	gitRepo(t, "")

	if code := runGoalList(); code != 2 {
		t.Errorf("code = %d, want 2", code)
	}
}

func TestRunGoalList_ExcludesClosedByDefault(t *testing.T) {
	isolateDirs(t)
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindGitHub, "acme/widgets")

	ws, err := openWriteStore()
	if err != nil {
		t.Fatalf("openWriteStore: %v", err)
	}
	now := time.Now()
	err = ws.UpsertGoals(context.Background(), vcsGitDir(repoDir), []forge.Goal{
		{ID: "g1", Name: "open goal", State: forge.StateOpen, CreatedAt: now, UpdatedAt: now},
		{ID: "g2", Name: "closed goal", State: forge.StateClosed, CreatedAt: now, UpdatedAt: now},
	})
	if err != nil {
		t.Fatalf("UpsertGoals: %v", err)
	}
	ws.Close()

	goalListIncludeClosed = false
	jsonOutput = true
	defer func() { jsonOutput = false }()

	var code int
	out := captureStdout(t, func() { code = runGoalList() })
	if code != 0 {
		t.Fatalf("runGoalList() = %d, want 0", code)
	}

	var goals []forge.Goal
	if err := json.Unmarshal([]byte(out), &goals); err != nil {
		t.Fatalf("decode goal list JSON: %v\noutput: %s", err, out)
	}
	if len(goals) != 1 || goals[0].ID != "g1" {
		t.Errorf("goals = %+v, want exactly [g1]", goals)
	}
}

func TestRunGoalShow_NotFound(t *testing.T) {
	isolateDirs(t)
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindGitHub, "acme/widgets")

	if code := runGoalShow("no-such-goal"); code != 6 {
		t.Errorf("code = %d, want 6", code)
	}
}

func TestRunGoalCreate_AuthFailure(t *testing.T) {
	isolateDirs(t)
	t.Setenv("LINEAR_API_KEY", "")
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindLinear, "acme")

	if code := runGoalCreate("a goal", ""); code != 3 {
		t.Errorf("code = %d, want 3", code)
	}
}

func TestRunGoalCreate_InvalidTargetDate(t *testing.T) {
	isolateDirs(t)
	t.Setenv("GITHUB_TOKEN", "fake-token-for-construction-only")
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindGitHub, "acme/widgets")

	goalTargetDate = "not-a-date"
	defer func() { goalTargetDate = "" }()

	if code := runGoalCreate("a goal", ""); code != 1 {
		t.Errorf("code = %d, want 1", code)
	}
}

func TestRunGoalClose_AuthFailure(t *testing.T) {
	isolateDirs(t)
	t.Setenv("LINEAR_API_KEY", "")
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindLinear, "acme")

	if code := runGoalClose("g1"); code != 3 {
		t.Errorf("code = %d, want 3", code)
	}
}

func TestRunGoalAssign_AuthFailure(t *testing.T) {
	isolateDirs(t)
	t.Setenv("LINEAR_API_KEY", "")
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindLinear, "acme")

	if code := runGoalAssign("ISQ-1", "g1"); code != 3 {
		t.Errorf("code = %d, want 3", code)
	}
}
