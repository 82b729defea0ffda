package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/localcache/isq/internal/binding"
	"github.com/localcache/isq/internal/ipc"
	"github.com/localcache/isq/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send SyncNow to the daemon and wait for completion",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runSync())
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync() int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 5
	}

	s, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 5
	}
	defer s.Close()

	resolved, err := binding.Resolve(context.Background(), s, wd)
	if err != nil || !resolved.Bound {
		fmt.Fprintf(os.Stderr, "isq: %s is not linked\n", wd)
		return 5
	}

	sock, err := socketPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 5
	}

	client := &ipc.Client{SocketPath: sock}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.Call(ctx, ipc.Request{Kind: ipc.RequestSyncNow, GitDir: resolved.GitDir}, nil); err != nil {
		fmt.Fprintf(os.Stderr, "isq: daemon unreachable: %v\n", err)
		return 5
	}

	fmt.Printf("%s sync complete for %s\n", ui.RenderPass("✓"), resolved.Binding.Repo)
	return 0
}
