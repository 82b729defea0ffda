//go:build windows

package daemon

import (
	"fmt"
	"os/exec"
	"strings"
)

const scheduledTaskName = "isq-daemon"

type scheduledTaskService struct{}

// NewService returns the Windows Task Scheduler implementation. Not
// present in the platform this ported from (it only covered macOS and
// Linux); schtasks.exe is used directly since the retrieval pack carries
// no Task Scheduler client library.
func NewService() Service { return scheduledTaskService{} }

func (scheduledTaskService) Install(execPath, logPath string) error {
	args := fmt.Sprintf(`"%s" daemon run`, execPath)
	cmd := exec.Command("schtasks", "/Create", "/TN", scheduledTaskName, "/TR", args, "/SC", "ONLOGON", "/F")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("service: schtasks create: %w: %s", err, out)
	}
	return nil
}

func (scheduledTaskService) Uninstall() error {
	cmd := exec.Command("schtasks", "/Delete", "/TN", scheduledTaskName, "/F")
	if out, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(out), "cannot find") {
			return nil
		}
		return fmt.Errorf("service: schtasks delete: %w: %s", err, out)
	}
	return nil
}

func (scheduledTaskService) Start() error {
	cmd := exec.Command("schtasks", "/Run", "/TN", scheduledTaskName)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("service: schtasks run: %w: %s", err, out)
	}
	return nil
}

func (scheduledTaskService) Stop() error {
	cmd := exec.Command("schtasks", "/End", "/TN", scheduledTaskName)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("service: schtasks end: %w: %s", err, out)
	}
	return nil
}

func (scheduledTaskService) Status() (Status, error) {
	out, err := exec.Command("schtasks", "/Query", "/TN", scheduledTaskName).CombinedOutput()
	if err != nil {
		return Status{}, nil
	}
	st := Status{Installed: true}
	st.Running = strings.Contains(string(out), "Running")
	return st, nil
}
