// Package binding resolves a filesystem path to the repo binding the store
// holds for it: walking upward to the nearest git directory, then reading
// (or writing) the store row that associates it with exactly one
// forge+remote-repo identity.
//
// Git-directory discovery is grounded on internal/vcs/detect.go's upward
// walk and worktree-.git-file resolution; remote-URL-to-owner/name parsing
// is grounded on original_source/src/repo.rs's parse_repo_url /
// parse_owner_name.
package binding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/store"
	"github.com/localcache/isq/internal/vcs"
)

// Resolved is what the resolver hands back for a path: the stable git-dir
// identity, and (if bound) the store's binding row for it.
type Resolved struct {
	GitDir  string
	Binding store.Binding
	Bound   bool
}

var ErrNotInGitRepo = fmt.Errorf("binding: not inside a git repository")

// Resolve walks upward from path to the nearest VCS directory and looks up
// its binding, if any.
func Resolve(ctx context.Context, s *store.Store, path string) (Resolved, error) {
	result, err := vcs.Detect(path)
	if err != nil {
		return Resolved{}, ErrNotInGitRepo
	}

	gitDir := result.VCSDir
	if gitDir == "" {
		return Resolved{}, ErrNotInGitRepo
	}

	b, ok, err := s.GetBinding(ctx, gitDir)
	if err != nil {
		return Resolved{}, fmt.Errorf("binding: lookup: %w", err)
	}
	return Resolved{GitDir: gitDir, Binding: b, Bound: ok}, nil
}

// RemoteRepo is the (owner, name) pair parsed from a git remote URL.
type RemoteRepo struct {
	Owner string
	Name  string
}

func (r RemoteRepo) FullName() string { return r.Owner + "/" + r.Name }

// DetectRemoteRepo reads the "origin" remote for the VCS-detected repo at
// path and parses it into an owner/name pair. It supports the same URL
// shapes the Rust source does (GitHub and GitLab, SSH and HTTPS), since the
// forge kind the caller intends to link determines which host is expected.
func DetectRemoteRepo(path string) (RemoteRepo, error) {
	v, err := vcs.GetForPath(path)
	if err != nil {
		return RemoteRepo{}, ErrNotInGitRepo
	}

	remotes, err := v.GetRemotes()
	if err != nil {
		return RemoteRepo{}, fmt.Errorf("binding: list remotes: %w", err)
	}

	var originURL string
	for _, r := range remotes {
		if r.Name == "origin" {
			originURL = r.URL
			break
		}
	}
	if originURL == "" && len(remotes) > 0 {
		originURL = remotes[0].URL
	}
	if originURL == "" {
		return RemoteRepo{}, fmt.Errorf("binding: no remote configured")
	}

	return parseRemoteURL(originURL)
}

var knownPrefixes = []string{
	"git@github.com:",
	"https://github.com/",
	"git@gitlab.com:",
	"https://gitlab.com/",
}

func parseRemoteURL(remoteURL string) (RemoteRepo, error) {
	for _, prefix := range knownPrefixes {
		if rest, ok := strings.CutPrefix(remoteURL, prefix); ok {
			return parseOwnerName(rest)
		}
	}
	return RemoteRepo{}, fmt.Errorf("binding: unsupported remote URL format: %s", remoteURL)
}

func parseOwnerName(path string) (RemoteRepo, error) {
	path = strings.TrimSuffix(path, ".git")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return RemoteRepo{}, fmt.Errorf("binding: could not parse owner/repo from %q", path)
	}
	return RemoteRepo{Owner: parts[0], Name: parts[1]}, nil
}

// Link writes a new binding for gitDir, replacing any prior binding for the
// same directory. Callers are responsible for the §3 invariant that
// replacing an existing binding requires explicit user confirmation before
// calling Link a second time.
func Link(ctx context.Context, s *store.Store, gitDir string, kind forge.Kind, repo, tokenHandle string) (store.Binding, error) {
	b := store.Binding{
		GitDir:      gitDir,
		ForgeKind:   kind,
		Repo:        repo,
		TokenHandle: tokenHandle,
		LinkedAt:    time.Now(),
	}
	if err := s.PutBinding(ctx, b); err != nil {
		return store.Binding{}, err
	}
	return b, nil
}

// Unlink removes the binding for gitDir. purgeIssues controls the
// configurable cache-retention choice SPEC_FULL.md §9 resolves as
// default-retain.
func Unlink(ctx context.Context, s *store.Store, gitDir string, purgeIssues bool) error {
	return s.DeleteBinding(ctx, gitDir, purgeIssues)
}
