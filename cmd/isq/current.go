// current and its companions start/cleanup manage the worktree-issue link
// internal/store/worktree.go describes: a local, lookup-resolved
// association between a git directory and the issue someone is actively
// working on there, never mirrored to a remote.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/localcache/isq/internal/binding"
	"github.com/localcache/isq/internal/ui"
)

var currentQuiet bool

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the issue key bound to the current git directory, if any",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runCurrent())
	},
}

func init() {
	currentCmd.Flags().BoolVar(&currentQuiet, "quiet", false, "print only the key, no decoration")
	rootCmd.AddCommand(currentCmd)
}

func runCurrent() int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 6
	}

	s, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 6
	}
	defer s.Close()

	resolved, err := binding.Resolve(context.Background(), s, wd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 6
	}

	link, ok, err := s.GetWorktreeIssue(context.Background(), resolved.GitDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 6
	}
	if !ok {
		if !currentQuiet {
			fmt.Println("no issue bound to this directory")
		}
		return 6
	}

	if currentQuiet {
		fmt.Println(link.IssueKey)
	} else {
		fmt.Printf("%s %s\n", ui.RenderAccent(link.IssueKey), link.GitDir)
	}
	return 0
}

var startCmd = &cobra.Command{
	Use:   "start <key>",
	Short: "Bind the current git directory to an issue you're working on",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runStart(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(key string) int {
	bc, code := resolveBoundWrite()
	if bc == nil {
		return code
	}
	defer bc.store.Close()

	if _, ok, err := bc.store.GetIssue(context.Background(), bc.gitDir, key); err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	} else if !ok {
		fmt.Fprintf(os.Stderr, "isq: no such issue %q\n", key)
		return 6
	}

	if err := bc.store.PutWorktreeIssue(context.Background(), bc.gitDir, bc.gitDir, key); err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	fmt.Printf("%s now working on %s\n", ui.RenderPass("✓"), ui.RenderAccent(key))
	return 0
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove the worktree-issue link for the current git directory",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runCleanup())
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup() int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	s, err := openWriteStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}
	defer s.Close()

	resolved, err := binding.Resolve(context.Background(), s, wd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	if err := s.DeleteWorktreeIssue(context.Background(), resolved.GitDir); err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	fmt.Printf("%s cleared current issue link\n", ui.RenderPass("✓"))
	return 0
}
