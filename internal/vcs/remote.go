package vcs

import (
	"fmt"
	"os/exec"
	"strings"
)

// RemoteInfo is a single named remote, as configured in the repo's
// .git/config.
type RemoteInfo struct {
	Name string
	URL  string
}

// Repo is a resolved git working tree, scoped to the one thing
// internal/binding needs beyond directory identity: its remotes.
type Repo struct {
	repoRoot string
}

// GetForPath resolves path to its containing repo.
func GetForPath(path string) (*Repo, error) {
	result, err := Detect(path)
	if err != nil {
		return nil, err
	}
	return &Repo{repoRoot: result.RepoRoot}, nil
}

// GetRemotes runs "git remote -v" and returns each remote's fetch URL,
// deduplicated by name (a remote has both a fetch and a push line).
func (r *Repo) GetRemotes() ([]RemoteInfo, error) {
	cmd := exec.Command("git", "remote", "-v")
	cmd.Dir = r.repoRoot

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("vcs: git remote -v: %w", err)
	}

	var order []string
	urls := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name, url := fields[0], fields[1]
		if _, seen := urls[name]; !seen {
			order = append(order, name)
		}
		// Fetch and push URLs are usually identical; keep whichever we
		// see, preferring fetch if both appear.
		if len(fields) < 3 || strings.Contains(fields[2], "fetch") || urls[name] == "" {
			urls[name] = url
		}
	}

	remotes := make([]RemoteInfo, 0, len(order))
	for _, name := range order {
		remotes = append(remotes, RemoteInfo{Name: name, URL: urls[name]})
	}
	return remotes, nil
}
