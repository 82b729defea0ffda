// Command isq is the offline-first CLI client for GitHub Issues and Linear.
//
// It follows the teacher's rootCmd-plus-per-command-file layout
// (cmd/bd/*.go): main.go holds only the root command and Execute; every
// subcommand lives in its own file and registers itself onto rootCmd from
// an init().
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "isq",
	Short: "Offline-first CLI client for GitHub Issues and Linear",
	Long: `isq reads issues from a local cache in sub-millisecond time and keeps
that cache in sync with GitHub and Linear through a background daemon.
Writes made while offline are queued durably and replayed once connectivity
returns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit structured JSON instead of human-readable text")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		os.Exit(1)
	}
}
