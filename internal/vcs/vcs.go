// Package vcs resolves the stable git-directory identity a working tree
// belongs to and reads its configured remotes.
//
// internal/binding is the package's only caller: it needs a directory
// that survives a worktree being moved or renamed, and the list of
// remote URLs a repo is configured with, and nothing more. The package
// shells out to the git binary directly rather than linking a Go git
// implementation, the same choice the rest of this codebase makes for
// anything a single git subprocess already answers cheaply.
package vcs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotInGitRepo is returned by Detect and GetForPath when path is not
// inside a git repository (or a linked worktree of one).
var ErrNotInGitRepo = errors.New("vcs: not inside a git repository")

// DetectionResult is what Detect reports about the git directory it found.
type DetectionResult struct {
	// RepoRoot is the working tree root containing path.
	RepoRoot string

	// VCSDir is the stable .git directory: for a worktree, the
	// per-worktree directory under the main repo's .git/worktrees/, not
	// the .git file in the worktree's own working tree.
	VCSDir string
}

// Detect walks upward from path looking for a .git entry, resolving a
// worktree's .git file to the directory it points at so the returned
// VCSDir stays stable even if the worktree itself is moved.
func Detect(path string) (*DetectionResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("vcs: resolve path: %w", err)
	}

	for current := absPath; ; {
		gitPath := filepath.Join(current, ".git")
		info, err := os.Stat(gitPath)
		if err != nil {
			parent := filepath.Dir(current)
			if parent == current {
				return nil, ErrNotInGitRepo
			}
			current = parent
			continue
		}

		if info.IsDir() {
			return &DetectionResult{RepoRoot: current, VCSDir: gitPath}, nil
		}
		vcsDir, err := resolveWorktreeGitDir(current, gitPath)
		if err != nil {
			return nil, err
		}
		return &DetectionResult{RepoRoot: current, VCSDir: vcsDir}, nil
	}
}

// resolveWorktreeGitDir reads a worktree's .git file — a single line of
// the form "gitdir: /path/to/main/.git/worktrees/<name>" — and returns the
// directory it points at.
func resolveWorktreeGitDir(worktreePath, gitFile string) (string, error) {
	content, err := os.ReadFile(gitFile)
	if err != nil {
		return "", fmt.Errorf("vcs: read %s: %w", gitFile, err)
	}

	line := strings.TrimSpace(string(content))
	gitDir, ok := strings.CutPrefix(line, "gitdir: ")
	if !ok {
		return "", fmt.Errorf("vcs: %s: unrecognized format", gitFile)
	}

	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(worktreePath, gitDir)
	}
	return filepath.Clean(gitDir), nil
}
