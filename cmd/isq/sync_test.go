package main

import (
	"testing"

	"github.com/localcache/isq/internal/forge"
)

func TestRunSync_NotLinked(t *testing.T) {
	isolateDirs(t)
	gitRepo(t, "")

	if code := runSync(); code != 5 {
		t.Errorf("code = %d, want 5", code)
	}
}

func TestRunSync_DaemonUnreachable(t *testing.T) {
	isolateDirs(t)
	repoDir := gitRepo(t, "")
	linkRepo(t, repoDir, forge.KindGitHub, "acme/widgets")

	if code := runSync(); code != 5 {
		t.Errorf("code = %d, want 5", code)
	}
}
