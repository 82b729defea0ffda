package main

import "testing"

// Only Status is exercised here: Start/Stop/Install act on the host's real
// systemd-user state (there's no injectable Service fake in the current
// wiring), so they're left to manual/integration verification rather than
// a unit test that would mutate the machine running it.
func TestRunDaemonStatus_NotInstalled(t *testing.T) {
	jsonOutput = false
	if code := runDaemonStatus(); code != 5 {
		t.Errorf("code = %d, want 5", code)
	}
}
