package main

import (
	"context"
	"testing"
	"time"

	"github.com/localcache/isq/internal/forge"
)

func TestRunIssueSnooze_UnparseableTime(t *testing.T) {
	isolateDirs(t)
	gitRepo(t, "")

	code := runIssueSnooze("ISQ-1", "zxqvblorp not a time")
	if code != 1 {
		t.Errorf("code = %d, want 1", code)
	}
}

func TestRunIssueSnooze_NoSuchIssue(t *testing.T) {
	isolateDirs(t)
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindGitHub, "acme/widgets")

	code := runIssueSnooze("ISQ-404", "tomorrow")
	if code != 6 {
		t.Errorf("code = %d, want 6", code)
	}
}

func TestRunIssueSnooze_SetsLocalState(t *testing.T) {
	isolateDirs(t)
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindGitHub, "acme/widgets")

	bc, code := resolveBound()
	if bc == nil {
		t.Fatalf("resolveBound failed, code %d", code)
	}
	seedIssue(t, bc, forge.Issue{Key: "ISQ-1", Title: "x", State: forge.StateOpen, UpdatedAt: time.Now()})
	gitDir := bc.gitDir
	bc.store.Close()

	if code := runIssueSnooze("ISQ-1", "tomorrow"); code != 0 {
		t.Fatalf("runIssueSnooze() = %d, want 0", code)
	}

	s, err := openStore()
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer s.Close()

	ls, err := s.GetLocalState(context.Background(), gitDir, "ISQ-1")
	if err != nil {
		t.Fatalf("GetLocalState: %v", err)
	}
	if ls.SnoozedUntil == nil {
		t.Fatalf("SnoozedUntil is nil after snooze")
	}
	if !ls.SnoozedUntil.After(time.Now()) {
		t.Errorf("SnoozedUntil = %v, want a time in the future", ls.SnoozedUntil)
	}
}

func TestRunIssueArchive_NoSuchIssue(t *testing.T) {
	isolateDirs(t)
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindGitHub, "acme/widgets")

	code := runIssueArchive("ISQ-404", true)
	if code != 6 {
		t.Errorf("code = %d, want 6", code)
	}
}

func TestRunIssueArchive_SetsAndUnsets(t *testing.T) {
	isolateDirs(t)
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindGitHub, "acme/widgets")

	bc, code := resolveBound()
	if bc == nil {
		t.Fatalf("resolveBound failed, code %d", code)
	}
	seedIssue(t, bc, forge.Issue{Key: "ISQ-1", Title: "x", State: forge.StateOpen, UpdatedAt: time.Now()})
	gitDir := bc.gitDir
	bc.store.Close()

	if code := runIssueArchive("ISQ-1", true); code != 0 {
		t.Fatalf("archive: runIssueArchive() = %d, want 0", code)
	}

	s, err := openStore()
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	ls, err := s.GetLocalState(context.Background(), gitDir, "ISQ-1")
	s.Close()
	if err != nil {
		t.Fatalf("GetLocalState: %v", err)
	}
	if !ls.Archived {
		t.Errorf("Archived = false, want true after archiving")
	}

	if code := runIssueArchive("ISQ-1", false); code != 0 {
		t.Fatalf("unarchive: runIssueArchive() = %d, want 0", code)
	}

	s, err = openStore()
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	ls, err = s.GetLocalState(context.Background(), gitDir, "ISQ-1")
	s.Close()
	if err != nil {
		t.Fatalf("GetLocalState: %v", err)
	}
	if ls.Archived {
		t.Errorf("Archived = true, want false after unarchiving")
	}
}
