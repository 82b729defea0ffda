package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/localcache/isq/internal/binding"
	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/store"
	"github.com/localcache/isq/internal/ui"
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Read and mutate issues",
}

func init() {
	rootCmd.AddCommand(issueCmd)
}

// boundContext bundles the open store and resolved binding every issue
// subcommand needs. Callers must close .store when done.
type boundContext struct {
	store   *store.Store
	gitDir  string
	binding store.Binding
}

// resolveBound opens a read-only store handle and resolves the current
// directory's binding. On failure it reports the error itself and returns
// a nil context plus the exit code the caller should use.
func resolveBound() (*boundContext, int) {
	return resolveBoundWith(openStore)
}

// resolveBoundWrite opens a writable store handle instead. It is reserved
// for the commands that own tables under CLI write per §3's Ownership
// paragraph: link/unlink, start/cleanup, snooze/archive, and direct-mode
// writes falling back to the pending-op log.
func resolveBoundWrite() (*boundContext, int) {
	return resolveBoundWith(openWriteStore)
}

func resolveBoundWith(open func() (*store.Store, error)) (*boundContext, int) {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return nil, 2
	}

	s, err := open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return nil, 2
	}

	resolved, err := binding.Resolve(context.Background(), s, wd)
	if err != nil {
		s.Close()
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return nil, 2
	}
	if !resolved.Bound {
		s.Close()
		fmt.Fprintf(os.Stderr, "isq: %s is not linked — run isq link <forge> first\n", wd)
		return nil, 2
	}

	return &boundContext{store: s, gitDir: resolved.GitDir, binding: resolved.Binding}, 0
}

// issueJSON is the §6 JSON read-model shape: an issue plus the forge kind
// it came from, which forge.Issue itself doesn't carry.
type issueJSON struct {
	forge.Issue
	Forge string `json:"forge"`
}

var (
	listState    string
	listLabel    string
	listAssignee string
)

var issueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached issues",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runIssueList())
	},
}

func init() {
	issueListCmd.Flags().StringVar(&listState, "state", "", `filter by state ("open" or "closed")`)
	issueListCmd.Flags().StringVar(&listLabel, "label", "", "filter by label")
	issueListCmd.Flags().StringVar(&listAssignee, "assignee", "", "filter by assignee")
	issueCmd.AddCommand(issueListCmd)
}

func runIssueList() int {
	bc, code := resolveBound()
	if bc == nil {
		return code
	}
	defer bc.store.Close()

	issues, err := bc.store.ListIssues(context.Background(), bc.gitDir, store.IssueFilter{
		State:    listState,
		Label:    listLabel,
		Assignee: listAssignee,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	if jsonOutput {
		out := make([]issueJSON, len(issues))
		for i, iss := range issues {
			out[i] = issueJSON{Issue: iss, Forge: string(bc.binding.ForgeKind)}
		}
		enc, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "isq: %v\n", err)
			return 1
		}
		fmt.Println(string(enc))
		return 0
	}

	for _, iss := range issues {
		marker := ui.RenderPass("○")
		if iss.State == forge.StateClosed {
			marker = ui.RenderDim("●")
		}
		fmt.Printf("%s %s  %s\n", marker, ui.RenderAccent(iss.Key), iss.Title)
	}
	return 0
}

var issueShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a cached issue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runIssueShow(args[0]))
	},
}

func init() {
	issueCmd.AddCommand(issueShowCmd)
}

func runIssueShow(key string) int {
	bc, code := resolveBound()
	if bc == nil {
		return code
	}
	defer bc.store.Close()

	iss, ok, err := bc.store.GetIssue(context.Background(), bc.gitDir, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "isq: no such issue %q\n", key)
		return 6
	}

	if jsonOutput {
		enc, err := json.MarshalIndent(issueJSON{Issue: iss, Forge: string(bc.binding.ForgeKind)}, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "isq: %v\n", err)
			return 1
		}
		fmt.Println(string(enc))
		return 0
	}

	fmt.Printf("%s  %s\n", ui.RenderAccent(iss.Key), iss.Title)
	fmt.Printf("state: %s   author: %s\n", iss.State, iss.Author)
	if len(iss.Labels) > 0 {
		names := make([]string, len(iss.Labels))
		for i, l := range iss.Labels {
			names[i] = l.Name
		}
		fmt.Printf("labels: %v\n", names)
	}
	if len(iss.Assignees) > 0 {
		fmt.Printf("assignees: %v\n", iss.Assignees)
	}
	fmt.Printf("updated: %s\n", iss.UpdatedAt.Format(time.RFC3339))
	if iss.URL != "" {
		fmt.Printf("url: %s\n", iss.URL)
	}
	if iss.Body != "" {
		fmt.Printf("\n%s\n", iss.Body)
	}
	return 0
}
