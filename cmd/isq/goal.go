// Goal commands implement the Goals supplement (GitHub Milestone / Linear
// Project). Unlike issue mutations, goal writes have no queued-offline
// mode: internal/writequeue has no goal payload builders, so a goal
// mutation simply requires connectivity.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/localcache/isq/internal/ipc"
	"github.com/localcache/isq/internal/ui"
)

// refreshGoalsAfterWrite is refreshIssueAfterWrite's goal-side counterpart:
// forge.Forge has no single-goal fetch, so the daemon re-lists and
// re-upserts every goal on a RefreshGoals hint, mirroring the re-list-all
// pattern runGoalClose used to perform itself before the cache became
// daemon-exclusive.
func refreshGoalsAfterWrite(bc *boundContext) {
	sock, err := socketPath()
	if err != nil {
		return
	}
	client := &ipc.Client{SocketPath: sock}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client.Call(ctx, ipc.Request{Kind: ipc.RequestEnqueueHint, GitDir: bc.gitDir, RefreshGoals: true}, nil)
}

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Read and mutate goals (GitHub milestones / Linear projects)",
}

func init() {
	issueCmd.AddCommand(goalCmd)
}

var goalListIncludeClosed bool

var goalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached goals",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runGoalList())
	},
}

func init() {
	goalListCmd.Flags().BoolVar(&goalListIncludeClosed, "all", false, "include closed goals")
	goalCmd.AddCommand(goalListCmd)
}

func runGoalList() int {
	bc, code := resolveBound()
	if bc == nil {
		return code
	}
	defer bc.store.Close()

	goals, err := bc.store.ListGoals(context.Background(), bc.gitDir, goalListIncludeClosed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	if jsonOutput {
		enc, err := json.MarshalIndent(goals, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "isq: %v\n", err)
			return 1
		}
		fmt.Println(string(enc))
		return 0
	}

	for _, g := range goals {
		fmt.Printf("%s  %s  (%d/%d closed, %.0f%%)\n", ui.RenderAccent(g.ID), g.Name, g.ClosedCount, g.OpenCount+g.ClosedCount, g.Progress*100)
	}
	return 0
}

var goalShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a cached goal",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runGoalShow(args[0]))
	},
}

func init() {
	goalCmd.AddCommand(goalShowCmd)
}

func runGoalShow(id string) int {
	bc, code := resolveBound()
	if bc == nil {
		return code
	}
	defer bc.store.Close()

	g, ok, err := bc.store.GetGoal(context.Background(), bc.gitDir, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "isq: no such goal %q\n", id)
		return 6
	}

	if jsonOutput {
		enc, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "isq: %v\n", err)
			return 1
		}
		fmt.Println(string(enc))
		return 0
	}

	fmt.Printf("%s  %s\n", ui.RenderAccent(g.ID), g.Name)
	fmt.Printf("state: %s   progress: %.0f%%   open: %d   closed: %d\n", g.State, g.Progress*100, g.OpenCount, g.ClosedCount)
	if g.TargetDate != nil {
		fmt.Printf("target: %s\n", g.TargetDate.Format("2006-01-02"))
	}
	if g.Description != "" {
		fmt.Printf("\n%s\n", g.Description)
	}
	return 0
}

var goalTargetDate string

var goalCreateCmd = &cobra.Command{
	Use:   "create <name> [body]",
	Short: "Create a goal",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		body := ""
		if len(args) == 2 {
			body = args[1]
		}
		os.Exit(runGoalCreate(args[0], body))
	},
}

func init() {
	goalCreateCmd.Flags().StringVar(&goalTargetDate, "target", "", "target date, YYYY-MM-DD")
	goalCmd.AddCommand(goalCreateCmd)
}

func runGoalCreate(name, body string) int {
	bc, code := resolveBound()
	if bc == nil {
		return code
	}
	defer bc.store.Close()

	f, err := buildForge(bc.binding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %s\n", authFailureMessage(authConfigs[bc.binding.ForgeKind], err))
		return 3
	}

	var targetDate *time.Time
	if goalTargetDate != "" {
		t, err := time.Parse("2006-01-02", goalTargetDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "isq: invalid --target %q: %v\n", goalTargetDate, err)
			return 1
		}
		targetDate = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	g, err := f.CreateGoal(ctx, bc.binding.Repo, name, body, targetDate)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 5
	}

	refreshGoalsAfterWrite(bc)
	fmt.Printf("%s created goal %s\n", ui.RenderPass("✓"), ui.RenderAccent(g.ID))
	return 0
}

var goalCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a goal",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runGoalClose(args[0]))
	},
}

func init() {
	goalCmd.AddCommand(goalCloseCmd)
}

func runGoalClose(id string) int {
	bc, code := resolveBound()
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
	err = f.CloseGoal(ctx, bc.binding.Repo, id)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 5
	}

	refreshGoalsAfterWrite(bc)
	fmt.Printf("%s closed goal %s\n", ui.RenderPass("✓"), ui.RenderAccent(id))
	return 0
}

var goalAssignCmd = &cobra.Command{
	Use:   "assign <issue-key> <goal-id>",
	Short: "Assign an issue to a goal",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runGoalAssign(args[0], args[1]))
	},
}

func init() {
	goalCmd.AddCommand(goalAssignCmd)
}

func runGoalAssign(issueKey, goalID string) int {
	bc, code := resolveBound()
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
	err = f.AssignToGoal(ctx, bc.binding.Repo, issueKey, goalID)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 5
	}

	refreshIssueAfterWrite(bc, issueKey)
	fmt.Printf("%s assigned %s to goal %s\n", ui.RenderPass("✓"), ui.RenderAccent(issueKey), goalID)
	return 0
}
