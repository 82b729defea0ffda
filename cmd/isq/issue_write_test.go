package main

import (
	"context"
	"testing"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/store"
)

// linearWithoutCredentials links a repo to Linear and scrubs every tier of
// its credential fallback chain, so buildForge deterministically fails
// without reaching the network — Linear has no CLICommand tier and the
// Resolver's Store is always nil, so only the env var needs clearing.
func linearWithoutCredentials(t *testing.T) string {
	t.Helper()
	t.Setenv("LINEAR_API_KEY", "")
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindLinear, "acme")
	return repoDir
}

func TestRunMutation_NotLinked(t *testing.T) {
	isolateDirs(t)
	gitRepo(t, "")

	code := runMutation("ISQ-1", store.OpComment,
		func() (string, error) { return "", nil },
		func(ctx context.Context, f forge.Forge, repo string) error { return nil },
	)
	if code != 2 {
		t.Errorf("code = %d, want 2", code)
	}
}

func TestRunMutation_AuthFailure(t *testing.T) {
	isolateDirs(t)
	linearWithoutCredentials(t)

	called := false
	code := runMutation("ISQ-1", store.OpComment,
		func() (string, error) { return "{}", nil },
		func(ctx context.Context, f forge.Forge, repo string) error {
			called = true
			return nil
		},
	)
	if code != 3 {
		t.Errorf("code = %d, want 3", code)
	}
	if called {
		t.Errorf("direct() was called despite buildForge failing")
	}
}

func TestRunIssueCreate_NotLinked(t *testing.T) {
	isolateDirs(t)
	gitRepo(t, "")

	if code := runIssueCreate("a new issue"); code != 2 {
		t.Errorf("code = %d, want 2", code)
	}
}

func TestRunIssueCreate_AuthFailure(t *testing.T) {
	isolateDirs(t)
	linearWithoutCredentials(t)

	if code := runIssueCreate("a new issue"); code != 3 {
		t.Errorf("code = %d, want 3", code)
	}
}

