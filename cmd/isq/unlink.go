package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/localcache/isq/internal/binding"
	"github.com/localcache/isq/internal/ui"
)

var unlinkPurge bool

var unlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Remove the binding for the current git directory",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runUnlink())
	},
}

func init() {
	unlinkCmd.Flags().BoolVar(&unlinkPurge, "purge", false, "also delete cached issues (default: retain for offline reading)")
	rootCmd.AddCommand(unlinkCmd)
}

func runUnlink() int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 2
	}

	s, err := openWriteStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 2
	}
	defer s.Close()

	ctx := context.Background()
	resolved, err := binding.Resolve(ctx, s, wd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 2
	}
	if !resolved.Bound {
		fmt.Fprintf(os.Stderr, "isq: %s is not linked\n", resolved.GitDir)
		return 2
	}

	if err := binding.Unlink(ctx, s, resolved.GitDir, unlinkPurge); err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 2
	}

	fmt.Printf("%s unlinked %s\n", ui.RenderPass("✓"), resolved.Binding.Repo)
	return 0
}
