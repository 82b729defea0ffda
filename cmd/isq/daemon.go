// Daemon lifecycle commands wrap internal/daemon's per-OS Service
// abstraction (start/stop/status against systemd-user/launchd/scheduled
// tasks) and provide the foreground "run" subcommand each platform's
// service manager actually execs, following the signal-handling shape
// cmd/bd/dashboard.go uses for its own long-running server command.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	isqconfig "github.com/localcache/isq/internal/config"
	isqdaemon "github.com/localcache/isq/internal/daemon"
	"github.com/localcache/isq/internal/logging"
	"github.com/localcache/isq/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background sync daemon",
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

// installDaemonService is called by `isq link` on first successful link,
// per §4.6's "installation is a side-effect of first successful login".
func installDaemonService() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	lp, err := logPath()
	if err != nil {
		return err
	}
	return isqdaemon.NewService().Install(exe, lp)
}

func runDaemonLifecycle(verb string, action func(isqdaemon.Service) error) int {
	svc := isqdaemon.NewService()
	if err := action(svc); err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 5
	}
	fmt.Printf("%s daemon %s\n", ui.RenderPass("✓"), verb)
	return 0
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the installed daemon service",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runDaemonLifecycle("started", func(s isqdaemon.Service) error { return s.Start() }))
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon service",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runDaemonLifecycle("stopped", func(s isqdaemon.Service) error { return s.Stop() }))
	},
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon service",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runDaemonLifecycle("restarted", func(s isqdaemon.Service) error {
			_ = s.Stop()
			return s.Start()
		}))
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon service is installed and running",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runDaemonStatus())
	},
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

func runDaemonStatus() int {
	st, err := isqdaemon.NewService().Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 5
	}

	if jsonOutput {
		enc, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "isq: %v\n", err)
			return 5
		}
		fmt.Println(string(enc))
		return 0
	}

	if !st.Installed {
		fmt.Println("daemon service is not installed")
		return 5
	}
	if !st.Running {
		fmt.Println("daemon service is installed but not running")
		return 5
	}
	fmt.Printf("%s daemon running (pid %d)\n", ui.RenderPass("✓"), st.PID)
	return 0
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground (invoked by the installed service)",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runDaemonRun())
	},
}

func init() {
	daemonCmd.AddCommand(daemonRunCmd)
}

func runDaemonRun() int {
	cfgPath, err := configPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}
	cfg, err := isqconfig.Load(cfgPath)
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

	sock, err := socketPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}
	pid, err := pidPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}
	lp, err := logPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	logger := logging.New(logging.Options{Path: lp, AlsoStderr: true})

	d, err := isqdaemon.New(isqdaemon.Config{
		Store:          s,
		SocketPath:     sock,
		PIDFilePath:    pid,
		ConfigPath:     cfgPath,
		ResolveToken:   resolveToken,
		Logger:         logger,
		IdleShutdown:   cfg.Daemon.IdleExitAfter,
		ReplayInterval: cfg.Daemon.ReplayInterval,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "isq: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Println("daemon starting")
	if err := d.Start(ctx); err != nil {
		logger.Printf("daemon stopped with error: %v", err)
		return 1
	}
	logger.Println("daemon stopped")
	return 0
}
