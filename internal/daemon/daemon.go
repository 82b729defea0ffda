// Package daemon runs the long-lived background process: one sync tick
// goroutine per bound git directory, one shared write-queue replayer, and
// the control channel server, all sharing a single writer connection to the
// store per §9's "daemon is the sole holder of the writer connection" rule.
//
// Grounded on internal/turso/daemon/daemon.go's goroutine-pool lifecycle
// (Config/Daemon/New/Start/Stop, sync.WaitGroup, context.CancelFunc,
// fsnotify-driven debounced refresh), generalized from a fixed
// three-goroutine file-watch pool to a per-binding pool sized at whatever
// the store's current binding set is, re-evaluated at startup, whenever a
// Reload control request arrives, and when the config file is written.
// Single-instance
// enforcement and the exit-when-idle rule are grounded on
// original_source/src/daemon.rs.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/ipc"
	"github.com/localcache/isq/internal/store"
	syncpkg "github.com/localcache/isq/internal/sync"
	"github.com/localcache/isq/internal/writequeue"
)

// TokenResolver looks up the credential behind a binding's opaque token
// handle. internal/keychain provides the production implementation; tests
// supply a map-backed fake.
type TokenResolver func(tokenHandle string) (string, error)

// Config configures a Daemon. Logger defaults to log.Default() when nil.
type Config struct {
	Store          *store.Store
	SocketPath     string
	PIDFilePath    string
	ConfigPath     string // watched for writes; triggers reconcileBindings, empty disables
	ResolveToken   TokenResolver
	Logger         *log.Logger
	IdleShutdown   time.Duration // 0 disables idle auto-exit
	ReplayInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.ReplayInterval <= 0 {
		c.ReplayInterval = 15 * time.Second
	}
}

// Daemon owns the store's writer connection and runs every background task
// for every bound directory until Stop is called or it exits idle.
type Daemon struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ipcServer *ipc.Server
	pidFile   *pidFile

	mu            sync.Mutex
	failures      map[string]int // gitDir -> consecutive sync failures
	lastConnectAt time.Time
	startedAt     time.Time
	bindingCancel map[string]context.CancelFunc
}

// New validates cfg and constructs a Daemon. It does not start anything.
func New(cfg Config) (*Daemon, error) {
	if cfg.Store == nil {
		return nil, errors.New("daemon: Store is required")
	}
	if cfg.SocketPath == "" {
		return nil, errors.New("daemon: SocketPath is required")
	}
	if cfg.ResolveToken == nil {
		return nil, errors.New("daemon: ResolveToken is required")
	}
	cfg.setDefaults()

	d := &Daemon{
		cfg:           cfg,
		failures:      make(map[string]int),
		bindingCancel: make(map[string]context.CancelFunc),
		lastConnectAt: time.Now(),
		startedAt:     time.Now(),
	}
	return d, nil
}

// Start acquires the single-instance lock, starts the control channel, and
// launches one goroutine per current binding plus the shared replayer loop.
// It blocks until ctx is cancelled, Stop is called, or the idle-shutdown
// window elapses with no control-channel connections and no bindings.
func (d *Daemon) Start(ctx context.Context) error {
	if d.cfg.PIDFilePath != "" {
		pf, err := acquirePIDFile(d.cfg.PIDFilePath)
		if err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
		d.pidFile = pf
		defer d.pidFile.Release()
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	d.ipcServer = &ipc.Server{
		SocketPath: d.cfg.SocketPath,
		Handler:    d.handleRequest,
		Logger:     d.cfg.Logger,
	}
	d.wg.Add(1)
	ipcErrCh := make(chan error, 1)
	go func() {
		defer d.wg.Done()
		ipcErrCh <- d.ipcServer.Serve(d.ctx)
	}()

	if err := d.reconcileBindings(); err != nil {
		d.logf("initial reconcile failed: %v", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runReplayLoop()
	}()

	if d.cfg.IdleShutdown > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runIdleWatch()
		}()
	}

	if d.cfg.ConfigPath != "" {
		if err := d.watchConfig(); err != nil {
			d.logf("config watch disabled: %v", err)
		}
	}

	<-d.ctx.Done()
	d.wg.Wait()

	select {
	case err := <-ipcErrCh:
		return err
	default:
		return nil
	}
}

// Stop requests cooperative shutdown: every binding loop, the replayer, and
// the control channel observe ctx.Done() and return promptly. Callers
// wanting a grace window for in-flight HTTP calls pass a ctx to Start that
// is itself cancelled only after that window — e.g. via
// context.WithTimeout at the call site — since cancellation here is the
// only signal this package propagates down to a forge adapter's HTTP
// client.
func (d *Daemon) Stop() {
	d.cancel()
}

// reconcileBindings starts or stops per-binding sync goroutines to match
// the store's current binding set. Called on startup and on a Reload
// control request.
func (d *Daemon) reconcileBindings() error {
	bindings, err := d.cfg.Store.ListBindings(d.ctx)
	if err != nil {
		return fmt.Errorf("daemon: list bindings: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	want := make(map[string]store.Binding, len(bindings))
	for _, b := range bindings {
		want[b.GitDir] = b
	}

	for gitDir, cancel := range d.bindingCancel {
		if _, ok := want[gitDir]; !ok {
			cancel()
			delete(d.bindingCancel, gitDir)
			delete(d.failures, gitDir)
		}
	}

	for gitDir, b := range want {
		if _, running := d.bindingCancel[gitDir]; running {
			continue
		}
		bindingCtx, cancel := context.WithCancel(d.ctx)
		d.bindingCancel[gitDir] = cancel
		d.wg.Add(1)
		go func(b store.Binding) {
			defer d.wg.Done()
			d.runBindingSyncLoop(bindingCtx, b)
		}(b)
	}
	return nil
}

// runBindingSyncLoop ticks Engine.RunOnce on the recency-scaled schedule
// from §4.4, backing off exponentially on consecutive failures.
func (d *Daemon) runBindingSyncLoop(ctx context.Context, b store.Binding) {
	f, err := d.buildForge(b)
	if err != nil {
		d.logf("binding %s: build forge adapter: %v", b.GitDir, err)
		return
	}
	engine := &syncpkg.Engine{Store: d.cfg.Store, Logger: d.cfg.Logger}

	for {
		st, _, _ := d.cfg.Store.ReadSyncState(ctx, b.GitDir)
		sinceAccess := time.Since(st.LastSyncedAt)
		if st.LastSyncedAt.IsZero() {
			sinceAccess = 0
		}

		var wait time.Duration
		d.mu.Lock()
		fails := d.failures[b.GitDir]
		d.mu.Unlock()
		if fails > 0 {
			wait = syncpkg.Backoff(fails, jitterDraw())
		} else {
			wait = syncpkg.TickInterval(sinceAccess)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		err := engine.RunOnce(ctx, b.GitDir, f, b.Repo)
		d.mu.Lock()
		if err != nil {
			d.failures[b.GitDir]++
			d.logf("sync failed for %s (attempt %d): %v", b.GitDir, d.failures[b.GitDir], err)
		} else {
			d.failures[b.GitDir] = 0
		}
		d.mu.Unlock()
	}
}

// runReplayLoop drains the write queue for every current binding on a fixed
// interval, independent of each binding's sync tick.
func (d *Daemon) runReplayLoop() {
	ticker := time.NewTicker(d.cfg.ReplayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			bindings, err := d.cfg.Store.ListBindings(d.ctx)
			if err != nil {
				d.logf("replay loop: list bindings: %v", err)
				continue
			}
			for _, b := range bindings {
				f, err := d.buildForge(b)
				if err != nil {
					d.logf("replay: binding %s: build forge adapter: %v", b.GitDir, err)
					continue
				}
				r := &writequeue.Replayer{Store: d.cfg.Store, Forge: f}
				if _, err := r.Replay(d.ctx, b.GitDir); err != nil {
					d.logf("replay failed for %s: %v", b.GitDir, err)
				}
			}
		}
	}
}

// runIdleWatch exits the process when no control-channel connection has
// landed and no binding exists for IdleShutdown, matching the Rust
// original's exit-when-idle rule: a daemon with nothing bound and nobody
// watching is pure overhead.
func (d *Daemon) runIdleWatch() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			idleFor := time.Since(d.lastConnectAt)
			hasBindings := len(d.bindingCancel) > 0
			d.mu.Unlock()
			if !hasBindings && idleFor >= d.cfg.IdleShutdown {
				d.logf("idle for %v with no bindings, shutting down", idleFor)
				d.cancel()
				return
			}
		}
	}
}

// watchConfig debounces writes to ConfigPath and calls reconcileBindings on
// settle, the way internal/turso/daemon/daemon.go's watchFileEvents /
// queueChange debounce task-file writes before recomputing derived state.
func (d *Daemon) watchConfig() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("daemon: new watcher: %w", err)
	}
	if err := watcher.Add(d.cfg.ConfigPath); err != nil {
		watcher.Close()
		return fmt.Errorf("daemon: watch %s: %w", d.cfg.ConfigPath, err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer watcher.Close()

		const debounce = 500 * time.Millisecond
		var timer *time.Timer
		for {
			select {
			case <-d.ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					if err := d.reconcileBindings(); err != nil {
						d.logf("config-triggered reconcile failed: %v", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logf("config watcher error: %v", err)
			}
		}
	}()
	return nil
}

func (d *Daemon) buildForge(b store.Binding) (forge.Forge, error) {
	token, err := d.cfg.ResolveToken(b.TokenHandle)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	return forge.New(b.ForgeKind, forge.Config{Token: token})
}

func (d *Daemon) handleRequest(ctx context.Context, req ipc.Request) (interface{}, error) {
	d.mu.Lock()
	d.lastConnectAt = time.Now()
	d.mu.Unlock()

	switch req.Kind {
	case ipc.RequestStatus:
		return d.buildStatus(ctx)
	case ipc.RequestSyncNow:
		return d.syncNow(ctx, req.GitDir)
	case ipc.RequestReload:
		return nil, d.reconcileBindings()
	case ipc.RequestEnqueueHint:
		return nil, d.applyEnqueueHint(ctx, req)
	case ipc.RequestShutdown:
		d.cancel()
		return nil, nil
	default:
		return nil, fmt.Errorf("daemon: unknown request kind %q", req.Kind)
	}
}

func (d *Daemon) buildStatus(ctx context.Context) (ipc.StatusResult, error) {
	bindings, err := d.cfg.Store.ListBindings(ctx)
	if err != nil {
		return ipc.StatusResult{}, err
	}
	result := ipc.StatusResult{Uptime: time.Since(d.startedAt).String()}
	for _, b := range bindings {
		st, _, _ := d.cfg.Store.ReadSyncState(ctx, b.GitDir)
		pending, _ := d.cfg.Store.CountPendingOps(ctx, b.GitDir)
		terminal, _ := d.cfg.Store.ListTerminalOps(ctx, b.GitDir)
		lastSyncedAt := ""
		if !st.LastSyncedAt.IsZero() {
			lastSyncedAt = st.LastSyncedAt.Format(time.RFC3339)
		}
		result.Bindings = append(result.Bindings, ipc.BindingStatus{
			GitDir:        b.GitDir,
			Repo:          b.Repo,
			PendingOps:    pending,
			NeedsReauth:   st.NeedsReauth,
			RateLimited:   st.RateLimitedUntil != nil && st.RateLimitedUntil.After(time.Now()),
			LastSyncedAt:  lastSyncedAt,
			SupersededOps: len(terminal),
		})
		// Terminal ops are reported once, then removed.
		for _, op := range terminal {
			if err := d.cfg.Store.DeleteOp(ctx, op.ID); err != nil {
				d.logf("status: delete reported op %d: %v", op.ID, err)
			}
		}
	}
	return result, nil
}

func (d *Daemon) syncNow(ctx context.Context, gitDir string) (interface{}, error) {
	b, ok, err := d.cfg.Store.GetBinding(ctx, gitDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("daemon: no binding for %s", gitDir)
	}
	f, err := d.buildForge(b)
	if err != nil {
		return nil, err
	}
	engine := &syncpkg.Engine{Store: d.cfg.Store, Logger: d.cfg.Logger}
	if err := engine.RunOnce(ctx, gitDir, f, b.Repo); err != nil {
		return nil, err
	}
	return struct{}{}, nil
}

// applyEnqueueHint performs the targeted cache refresh §4.5 requires after a
// direct-mode CLI write: the CLI process never touches the store itself per
// §3's Ownership paragraph, so it sends this hint and the daemon — the
// store's sole writer — performs the GetIssue-or-ListGoals-then-upsert on
// its behalf. This also serializes the refresh ahead of the binding's next
// sync tick per §5's ordering guarantee, since both run against the same
// writer connection under the daemon's single in-process call path.
func (d *Daemon) applyEnqueueHint(ctx context.Context, req ipc.Request) error {
	b, ok, err := d.cfg.Store.GetBinding(ctx, req.GitDir)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("daemon: no binding for %s", req.GitDir)
	}
	f, err := d.buildForge(b)
	if err != nil {
		return err
	}

	if req.RefreshGoals {
		return d.refreshGoals(ctx, f, b)
	}
	if req.IssueKey != "" {
		return d.refreshIssue(ctx, f, b, req.IssueKey)
	}
	return nil
}

func (d *Daemon) refreshIssue(ctx context.Context, f forge.Forge, b store.Binding, key string) error {
	iss, err := f.GetIssue(ctx, b.Repo, key)
	if err != nil {
		return fmt.Errorf("daemon: refresh issue %s: %w", key, err)
	}
	return d.cfg.Store.UpsertIssues(ctx, b.GitDir, []forge.Issue{iss}, nil)
}

func (d *Daemon) refreshGoals(ctx context.Context, f forge.Forge, b store.Binding) error {
	goals, err := f.ListGoals(ctx, b.Repo, true)
	if err != nil {
		return fmt.Errorf("daemon: refresh goals: %w", err)
	}
	return d.cfg.Store.UpsertGoals(ctx, b.GitDir, goals)
}

func (d *Daemon) logf(format string, args ...interface{}) {
	if d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// jitterDraw returns a ±25% jitter fraction for exponential backoff.
func jitterDraw() float64 {
	return (rand.Float64()*2 - 1) * 0.25
}

type pidFile struct {
	path string
	f    *os.File
}

// acquirePIDFile exclusively locks pidPath via flock(2) semantics, refusing
// to proceed if another daemon instance already holds it. See
// service_*.go for the per-OS lock primitive.
func acquirePIDFile(path string) (*pidFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}
	if err := lockExclusive(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("another daemon instance is already running (%s): %w", path, err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.WriteString(fmt.Sprintf("%d\n", os.Getpid())); err != nil {
		f.Close()
		return nil, err
	}
	return &pidFile{path: path, f: f}, nil
}

func (p *pidFile) Release() {
	unlockExclusive(p.f)
	p.f.Close()
	os.Remove(p.path)
}
