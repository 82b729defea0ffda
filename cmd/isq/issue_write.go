// Write commands implement §4.5's two disjoint modes: direct mode when the
// adapter is reachable, queued mode (durable pending op, "queued"
// acknowledgement, exit 7) when it returns a connectivity error. Every
// mutation after create reuses runMutation, mirroring the dispatch
// internal/writequeue.Replayer.execute performs when the daemon replays
// the same ops later.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/forgeerr"
	"github.com/localcache/isq/internal/ipc"
	"github.com/localcache/isq/internal/store"
	"github.com/localcache/isq/internal/ui"
	"github.com/localcache/isq/internal/writequeue"
)

// refreshIssueAfterWrite performs the "targeted sync-now" §4.5 requires
// after a direct-mode mutation. Per §3's Ownership paragraph the store is
// exclusively daemon-written, so the CLI does not touch the cache itself —
// it sends the daemon an enqueue_hint naming the issue, and the daemon
// performs the GetIssue-then-upsert refresh on the CLI's behalf. A failure
// to deliver the hint is not fatal to the mutation that already succeeded;
// the issue's cache entry simply goes stale until the next sync tick.
func refreshIssueAfterWrite(bc *boundContext, key string) {
	sock, err := socketPath()
	if err != nil {
		return
	}
	client := &ipc.Client{SocketPath: sock}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client.Call(ctx, ipc.Request{Kind: ipc.RequestEnqueueHint, GitDir: bc.gitDir, IssueKey: key}, nil)
}

// runMutation is the shared direct-mode/queued-mode dispatcher for every
// mutation keyed by an existing issue (comment, close, reopen, label,
// assign). direct performs the adapter call; buildPayload builds the
// pending-op payload used when direct fails with a connectivity error.
func runMutation(issueKey string, opKind store.OpKind, buildPayload func() (string, error), direct func(ctx context.Context, f forge.Forge, repo string) error) int {
	bc, code := resolveBoundWrite()
	if bc == nil {
		return code
	}
	defer bc.store.Close()

	f, err := buildForge(bc.binding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %s\n", authFailureMessage(authConfigs[bc.binding.ForgeKind], err))
		return 3
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = direct(ctx, f, bc.binding.Repo)
	cancel()

	if err == nil {
		refreshIssueAfterWrite(bc, issueKey)
		fmt.Printf("%s done\n", ui.RenderPass("✓"))
		return 0
	}

	if errors.Is(err, forgeerr.ErrAuthentication) {
		fmt.Fprintf(os.Stderr, "isq: %s\n", authFailureMessage(authConfigs[bc.binding.ForgeKind], err))
		return 3
	}
	if !errors.Is(err, forgeerr.ErrConnectivity) {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	payload, perr := buildPayload()
	if perr != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", perr)
		return 1
	}
	if _, eerr := bc.store.EnqueueOp(context.Background(), bc.gitDir, opKind, payload); eerr != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", eerr)
		return 1
	}
	fmt.Printf("%s queued (offline) — will retry automatically\n", ui.RenderWarn("~"))
	return 7
}

var (
	createBody      string
	createLabels    []string
	createAssignees []string
	createGoal      string
)

var issueCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create an issue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runIssueCreate(args[0]))
	},
}

func init() {
	issueCreateCmd.Flags().StringVar(&createBody, "body", "", "issue body")
	issueCreateCmd.Flags().StringSliceVar(&createLabels, "label", nil, "labels to attach (repeatable)")
	issueCreateCmd.Flags().StringSliceVar(&createAssignees, "assignee", nil, "assignees to attach (repeatable)")
	issueCreateCmd.Flags().StringVar(&createGoal, "goal", "", "goal (milestone/project) id to attach to")
	issueCmd.AddCommand(issueCreateCmd)
}

func runIssueCreate(title string) int {
	bc, code := resolveBoundWrite()
	if bc == nil {
		return code
	}
	defer bc.store.Close()

	f, err := buildForge(bc.binding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %s\n", authFailureMessage(authConfigs[bc.binding.ForgeKind], err))
		return 3
	}

	req := forge.CreateIssueRequest{
		Title:     title,
		Body:      createBody,
		Labels:    createLabels,
		Assignees: createAssignees,
		GoalID:    createGoal,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	issue, err := f.CreateIssue(ctx, bc.binding.Repo, req)
	cancel()

	if err == nil {
		refreshIssueAfterWrite(bc, issue.Key)
		fmt.Printf("%s created %s\n", ui.RenderPass("✓"), ui.RenderAccent(issue.Key))
		return 0
	}

	if errors.Is(err, forgeerr.ErrAuthentication) {
		fmt.Fprintf(os.Stderr, "isq: %s\n", authFailureMessage(authConfigs[bc.binding.ForgeKind], err))
		return 3
	}
	if !errors.Is(err, forgeerr.ErrConnectivity) {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	payload, perr := writequeue.BuildCreatePayload(title, createBody, createLabels, createAssignees, createGoal, "")
	if perr != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", perr)
		return 1
	}
	if _, eerr := bc.store.EnqueueOp(context.Background(), bc.gitDir, store.OpCreate, payload); eerr != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", eerr)
		return 1
	}
	fmt.Printf("%s queued (offline) — the new key will appear on the next status query\n", ui.RenderWarn("~"))
	return 7
}

var issueCommentCmd = &cobra.Command{
	Use:   "comment <key> <body>",
	Short: "Comment on an issue",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, body := args[0], args[1]
		os.Exit(runMutation(key, store.OpComment,
			func() (string, error) { return writequeue.BuildCommentPayload(key, body) },
			func(ctx context.Context, f forge.Forge, repo string) error {
				_, err := f.Comment(ctx, repo, key, body)
				return err
			}))
	},
}

func init() {
	issueCmd.AddCommand(issueCommentCmd)
}

var issueCloseCmd = &cobra.Command{
	Use:   "close <key>",
	Short: "Close an issue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		os.Exit(runMutation(key, store.OpClose,
			func() (string, error) { return writequeue.BuildCloseReopenPayload(key) },
			func(ctx context.Context, f forge.Forge, repo string) error {
				return f.UpdateIssueState(ctx, repo, key, forge.StateClosed)
			}))
	},
}

var issueReopenCmd = &cobra.Command{
	Use:   "reopen <key>",
	Short: "Reopen an issue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		os.Exit(runMutation(key, store.OpReopen,
			func() (string, error) { return writequeue.BuildCloseReopenPayload(key) },
			func(ctx context.Context, f forge.Forge, repo string) error {
				return f.UpdateIssueState(ctx, repo, key, forge.StateOpen)
			}))
	},
}

func init() {
	issueCmd.AddCommand(issueCloseCmd)
	issueCmd.AddCommand(issueReopenCmd)
}

var labelRemove bool

var issueLabelCmd = &cobra.Command{
	Use:   "label <key> <name>",
	Short: "Add (or, with --remove, remove) a label",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, name := args[0], args[1]
		opKind := store.OpLabelAdd
		if labelRemove {
			opKind = store.OpLabelRemove
		}
		os.Exit(runMutation(key, opKind,
			func() (string, error) { return writequeue.BuildLabelPayload(key, name) },
			func(ctx context.Context, f forge.Forge, repo string) error {
				if labelRemove {
					return f.RemoveLabel(ctx, repo, key, name)
				}
				return f.AddLabel(ctx, repo, key, name)
			}))
	},
}

func init() {
	issueLabelCmd.Flags().BoolVar(&labelRemove, "remove", false, "remove the label instead of adding it")
	issueCmd.AddCommand(issueLabelCmd)
}

var issueAssignCmd = &cobra.Command{
	Use:   "assign <key> <handle>",
	Short: "Assign an issue",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, handle := args[0], args[1]
		os.Exit(runMutation(key, store.OpAssign,
			func() (string, error) { return writequeue.BuildAssignPayload(key, handle) },
			func(ctx context.Context, f forge.Forge, repo string) error {
				return f.Assign(ctx, repo, key, handle)
			}))
	},
}

func init() {
	issueCmd.AddCommand(issueAssignCmd)
}
