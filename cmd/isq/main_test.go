package main

import "testing"

// TestCommandsRegistered checks that every subcommand file registers
// itself onto rootCmd (or a parent subcommand) from an init(), so a
// missing AddCommand call would otherwise only surface as a confusing
// "unknown command" at runtime.
func TestCommandsRegistered(t *testing.T) {
	want := []string{"link", "unlink", "status", "sync", "issue", "current", "start", "cleanup", "daemon"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("rootCmd has no %q subcommand", name)
		}
	}
}

func TestIssueSubcommandsRegistered(t *testing.T) {
	want := []string{"list", "show", "create", "comment", "close", "reopen", "label", "assign", "snooze", "archive", "goal"}
	for _, name := range want {
		found := false
		for _, c := range issueCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("issueCmd has no %q subcommand", name)
		}
	}
}

func TestDaemonSubcommandsRegistered(t *testing.T) {
	want := []string{"start", "stop", "restart", "status", "run"}
	for _, name := range want {
		found := false
		for _, c := range daemonCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("daemonCmd has no %q subcommand", name)
		}
	}
}

func TestGoalSubcommandsRegistered(t *testing.T) {
	want := []string{"list", "show", "create", "close", "assign"}
	for _, name := range want {
		found := false
		for _, c := range goalCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("goalCmd has no %q subcommand", name)
		}
	}
}
