// Snooze and archive are the Open-Question resolution SPEC_FULL.md §9
// records: personal state that never crosses the forge boundary, kept in
// internal/store's local_state table. Snooze durations are parsed with
// olebedev/when so "tomorrow" and "in 3 days" both work, since neither
// GitHub nor Linear have a snooze concept an adapter could target.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/localcache/isq/internal/ui"
)

var snoozeParser *when.Parser

func init() {
	snoozeParser = when.New(nil)
	snoozeParser.Add(en.All...)
	snoozeParser.Add(common.All...)
}

var issueSnoozeCmd = &cobra.Command{
	Use:   "snooze <key> <when>",
	Short: `Hide an issue from your own view until a time, e.g. "tomorrow" or "in 3 days"`,
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runIssueSnooze(args[0], strings.Join(args[1:], " ")))
	},
}

func init() {
	issueCmd.AddCommand(issueSnoozeCmd)
}

func runIssueSnooze(key, whenText string) int {
	result, err := snoozeParser.Parse(whenText, time.Now())
	if err != nil || result == nil {
		fmt.Fprintf(os.Stderr, "isq: couldn't understand %q as a time\n", whenText)
		return 1
	}

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

	if err := bc.store.SetSnooze(context.Background(), bc.gitDir, key, result.Time); err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	fmt.Printf("%s snoozed %s until %s\n", ui.RenderPass("✓"), ui.RenderAccent(key), result.Time.Format(time.RFC3339))
	return 0
}

var archiveUnset bool

var issueArchiveCmd = &cobra.Command{
	Use:   "archive <key>",
	Short: "Hide an issue from your own view indefinitely (local-only, never mirrored)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runIssueArchive(args[0], !archiveUnset))
	},
}

func init() {
	issueArchiveCmd.Flags().BoolVar(&archiveUnset, "unset", false, "un-archive instead of archiving")
	issueCmd.AddCommand(issueArchiveCmd)
}

func runIssueArchive(key string, archived bool) int {
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

	if err := bc.store.SetArchived(context.Background(), bc.gitDir, key, archived); err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	verb := "archived"
	if !archived {
		verb = "unarchived"
	}
	fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), verb, ui.RenderAccent(key))
	return 0
}
