package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/localcache/isq/internal/binding"
	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/sync"
	"github.com/localcache/isq/internal/ui"
)

var linkCmd = &cobra.Command{
	Use:   "link <forge>",
	Short: "Link the current git repository to a forge (github or linear)",
	Long: `Resolves the remote repository from the current git directory's
"origin" remote, resolves credentials through the CLI-tool /
environment-variable fallback chain, writes the binding, and runs an
initial sync.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runLink(strings.ToLower(args[0])))
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
}

func runLink(kindArg string) int {
	kind := forge.Kind(kindArg)
	authCfg, ok := authConfigs[kind]
	if !ok {
		fmt.Fprintf(os.Stderr, "isq: unknown forge %q (want \"github\" or \"linear\")\n", kindArg)
		return 2
	}

	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 2
	}
	remote, err := binding.DetectRemoteRepo(wd)
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
	if resolved.Bound {
		fmt.Fprintf(os.Stderr, "isq: %s is already linked to %s/%s — unlink first\n", resolved.GitDir, resolved.Binding.ForgeKind, resolved.Binding.Repo)
		return 4
	}

	token, err := resolveToken(kindArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %s\n", authFailureMessage(authCfg, err))
		return 3
	}

	f, err := forge.New(kind, forge.Config{Token: token})
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 3
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	identity, err := f.AuthProbe(probeCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %s\n", authFailureMessage(authCfg, err))
		return 3
	}

	b, err := binding.Link(ctx, s, resolved.GitDir, kind, remote.FullName(), kindArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 2
	}

	fmt.Printf("%s linked %s as %s to %s\n", ui.RenderPass("✓"), b.Repo, identity.Handle, b.ForgeKind)

	engine := &sync.Engine{Store: s}
	syncCtx, cancel2 := context.WithTimeout(ctx, 30*time.Second)
	err = engine.RunOnce(syncCtx, b.GitDir, f, b.Repo)
	cancel2()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s initial sync failed: %v (the daemon will retry)\n", ui.RenderWarn("!"), err)
	} else {
		fmt.Println("   initial sync complete")
	}

	if err := installDaemonService(); err != nil {
		fmt.Fprintf(os.Stderr, "%s could not install the daemon service: %v\n", ui.RenderWarn("!"), err)
	}

	return 0
}
