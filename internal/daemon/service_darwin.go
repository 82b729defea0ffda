//go:build darwin

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const launchdLabel = "com.isq.daemon"

type launchdService struct{}

// NewService returns the macOS launchd implementation.
func NewService() Service { return launchdService{} }

func (launchdService) plistPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("service: %w", err)
	}
	return filepath.Join(home, "Library/LaunchAgents", launchdLabel+".plist"), nil
}

func (s launchdService) Install(execPath, logPath string) error {
	path, err := s.plistPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("service: %w", err)
	}

	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
        <string>daemon</string>
        <string>run</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>%s</string>
    <key>StandardErrorPath</key>
    <string>%s</string>
</dict>
</plist>
`, launchdLabel, execPath, logPath, logPath)

	if err := os.WriteFile(path, []byte(plist), 0o644); err != nil {
		return fmt.Errorf("service: write plist: %w", err)
	}

	if err := exec.Command("launchctl", "load", "-w", path).Run(); err != nil {
		return fmt.Errorf("service: launchctl load: %w", err)
	}
	return nil
}

func (s launchdService) Uninstall() error {
	path, err := s.plistPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	exec.Command("launchctl", "unload", "-w", path).Run()
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("service: remove plist: %w", err)
	}
	return nil
}

func (s launchdService) isInstalled() (bool, error) {
	path, err := s.plistPath()
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (s launchdService) isRunning() bool {
	return exec.Command("launchctl", "list", launchdLabel).Run() == nil
}

func (s launchdService) Start() error {
	installed, err := s.isInstalled()
	if err != nil {
		return err
	}
	exePath, exeErr := os.Executable()
	if !installed {
		if exeErr != nil {
			return fmt.Errorf("service: %w", exeErr)
		}
		return s.Install(exePath, "")
	}
	if s.isRunning() {
		return nil
	}
	if err := exec.Command("launchctl", "start", launchdLabel).Run(); err != nil {
		return fmt.Errorf("service: launchctl start: %w", err)
	}
	return nil
}

func (s launchdService) Stop() error {
	if !s.isRunning() {
		return nil
	}
	if err := exec.Command("launchctl", "stop", launchdLabel).Run(); err != nil {
		return fmt.Errorf("service: launchctl stop: %w", err)
	}
	return nil
}

func (s launchdService) Status() (Status, error) {
	installed, err := s.isInstalled()
	if err != nil || !installed {
		return Status{Installed: installed}, err
	}

	out, err := exec.Command("launchctl", "list", launchdLabel).Output()
	if err != nil {
		return Status{Installed: true}, nil
	}

	st := Status{Installed: true}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "\"PID\"") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				v := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[1]), ";"))
				if pid, err := strconv.Atoi(v); err == nil {
					st.PID = pid
					st.Running = true
				}
			}
		}
	}
	return st, nil
}
