package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetVersionInfo(t *testing.T) {
	origVersion, origCommit, origDate := appVersion, appCommit, appDate
	defer func() { appVersion, appCommit, appDate = origVersion, origCommit, origDate }()

	SetVersionInfo("1.2.3", "abc1234", "2026-02-13")

	if appVersion != "1.2.3" {
		t.Errorf("appVersion = %q, want 1.2.3", appVersion)
	}
	if appCommit != "abc1234" {
		t.Errorf("appCommit = %q, want abc1234", appCommit)
	}
	if appDate != "2026-02-13" {
		t.Errorf("appDate = %q, want 2026-02-13", appDate)
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"nonexistent-command"})

	err := Execute()
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExecute_VersionSubcommand(t *testing.T) {
	origVersion, origCommit, origDate := appVersion, appCommit, appDate
	defer func() { appVersion, appCommit, appDate = origVersion, origCommit, origDate }()
	SetVersionInfo("test-ver", "test-commit", "test-date")

	out, _, err := run(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"oura test-ver", "commit: test-commit", "built:  test-date"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}

func TestRootCommand_Registration(t *testing.T) {
	want := []string{
		"fetch", "info", "export", "clear-cache", "clear-all", "cleanup",
		"trend", "anomalies", "correlate", "summary", "stress", "alerts", "event",
		"version",
	}
	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("command %q not registered on root", name)
		}
	}
}

func TestCommands_NotInitialized(t *testing.T) {
	setupCLI(t)
	Store, Syncer, SyncerErr, Guard, Exporter, Alerts, EventLog = nil, nil, nil, nil, nil, nil, nil

	cases := [][]string{
		{"fetch"},
		{"info"},
		{"export"},
		{"clear-cache"},
		{"clear-all"},
		{"cleanup"},
		{"trend", "readiness.score"},
		{"summary"},
		{"alerts"},
		{"alerts", "state"},
		{"event", "list"},
	}
	for _, args := range cases {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			_, _, err := run(t, args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "not initialized") {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
