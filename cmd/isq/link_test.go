package main

import (
	"testing"

	"github.com/localcache/isq/internal/forge"
)

func TestRunLink_UnknownForge(t *testing.T) {
	isolateDirs(t)
	gitRepo(t, "git@github.com:acme/widgets.git")

	if code := runLink("gitlab"); code != 2 {
		t.Errorf("code = %d, want 2", code)
	}
}

func TestRunLink_NotInGitRepo(t *testing.T) {
	isolateDirs(t)
	dir := t.TempDir()
	restore, err := chdir(t, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer restore()

	if code := runLink("github"); code != 2 {
		t.Errorf("code = %d, want 2", code)
	}
}

func TestRunLink_AlreadyLinked(t *testing.T) {
	isolateDirs(t)
	repoDir := gitRepo(t, "git@github.com:acme/widgets.git")
	linkRepo(t, repoDir, forge.KindGitHub, "acme/widgets")

	if code := runLink("github"); code != 4 {
		t.Errorf("code = %d, want 4", code)
	}
}

func TestRunLink_AuthFailure(t *testing.T) {
	isolateDirs(t)
	t.Setenv("LINEAR_API_KEY", "")
	gitRepo(t, "git@github.com:acme/widgets.git")

	if code := runLink("linear"); code != 3 {
		t.Errorf("code = %d, want 3", code)
	}
}
