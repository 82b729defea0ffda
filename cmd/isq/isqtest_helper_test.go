package main

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/store"
)

// isolateDirs points cacheDir/configDir at fresh per-test directories via
// the XDG env vars os.UserCacheDir/os.UserConfigDir consult on Linux,
// mirroring how the git fixtures below isolate repo state instead of
// touching the real home directory.
func isolateDirs(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", filepath.Join(t.TempDir(), "cache"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "config"))
}

// gitRepo creates a git repository with an "origin" remote pointed at
// remoteURL and chdirs the test process into it, restoring the previous
// working directory on cleanup.
func gitRepo(t *testing.T, remoteURL string) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init")
	run("config", "user.name", "Test User")
	run("config", "user.email", "test@example.com")
	if remoteURL != "" {
		run("remote", "add", "origin", remoteURL)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	return dir
}

// chdir switches the test process into dir, returning a restore func.
func chdir(t *testing.T, dir string) (restore func(), err error) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		return func() {}, err
	}
	if err := os.Chdir(dir); err != nil {
		return func() {}, err
	}
	return func() { os.Chdir(wd) }, nil
}

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	fn()
	os.Stdout = orig
	w.Close()

	buf := make([]byte, 64*1024)
	n, _ := r.Read(buf)
	r.Close()
	return string(buf[:n])
}

// vcsGitDir returns the .git directory binding.Resolve treats as the
// stable identity for the repo rooted at repoDir.
func vcsGitDir(repoDir string) string {
	return filepath.Join(repoDir, ".git")
}

// linkRepo opens the CLI's standard store in writable mode (honoring the
// XDG overrides isolateDirs set) and writes a binding for repoDir to
// kind/repo, so that resolveBound()/openStore() inside the command under
// test see it exactly as runLink would have left it.
func linkRepo(t *testing.T, repoDir string, kind forge.Kind, repo string) {
	t.Helper()
	s, err := openWriteStore()
	if err != nil {
		t.Fatalf("openWriteStore: %v", err)
	}
	defer s.Close()

	err = s.PutBinding(context.Background(), store.Binding{
		GitDir:      vcsGitDir(repoDir),
		ForgeKind:   kind,
		Repo:        repo,
		TokenHandle: string(kind),
		LinkedAt:    time.Now(),
	})
	if err != nil {
		t.Fatalf("PutBinding: %v", err)
	}
}
