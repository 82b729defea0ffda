package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/localcache/isq/internal/ipc"
	"github.com/localcache/isq/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the daemon for per-binding sync status",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runStatus())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus() int {
	sock, err := socketPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 5
	}

	client := &ipc.Client{SocketPath: sock}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result ipc.StatusResult
	if err := client.Call(ctx, ipc.Request{Kind: ipc.RequestStatus}, &result); err != nil {
		fmt.Fprintf(os.Stderr, "isq: daemon unreachable: %v\n", err)
		return 5
	}

	if jsonOutput {
		enc, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "isq: %v\n", err)
			return 5
		}
		fmt.Println(string(enc))
		return 0
	}

	if len(result.Bindings) == 0 {
		fmt.Println("no bindings")
		fmt.Printf("daemon uptime: %s\n", result.Uptime)
		return 0
	}

	for _, b := range result.Bindings {
		line := fmt.Sprintf("%s  %s", ui.RenderAccent(b.Repo), b.GitDir)
		fmt.Println(line)

		age := "never synced"
		if b.LastSyncedAt != "" {
			if t, err := time.Parse(time.RFC3339, b.LastSyncedAt); err == nil {
				age = "synced " + humanize.Time(t)
			}
		}
		fmt.Printf("   %s, %d pending op(s)\n", age, b.PendingOps)

		if b.NeedsReauth {
			fmt.Printf("   %s needs reauthentication\n", ui.RenderWarn("!"))
		}
		if b.RateLimited {
			fmt.Printf("   %s rate limited\n", ui.RenderWarn("!"))
		}
		if b.SupersededOps > 0 {
			fmt.Printf("   %s %d op(s) superseded by remote changes\n", ui.RenderWarn("!"), b.SupersededOps)
		}
	}
	fmt.Printf("daemon uptime: %s\n", result.Uptime)
	return 0
}
