package daemon

// Status reports whether the background daemon is registered with the
// host's service manager and currently running under it.
type Status struct {
	Installed bool
	Running   bool
	PID       int
}

// Service installs, removes, and queries the daemon's registration with
// the host OS's service manager (systemd user units on Linux, launchd on
// macOS, Scheduled Tasks on Windows). Grounded on
// original_source/src/service.rs's per-platform install/uninstall/start/
// stop/status quartet, one implementation per build-tagged file in this
// package.
type Service interface {
	Install(execPath, logPath string) error
	Uninstall() error
	Start() error
	Stop() error
	Status() (Status, error)
}
