package cli

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

func seedAlertData(t *testing.T, env *testEnv) {
	t.Helper()
	env.seed(t, models.EndpointReadiness, "score", map[string]float64{
		"2026-01-08": 50, "2026-01-09": 65, "2026-01-10": 60,
	})
	env.seedRecord(t, models.EndpointSleep, "2026-01-09", map[string]float64{"efficiency": 70, "total_sleep_hours": 7.5})
}

func TestAlertsCmd_FiresOncePerDay(t *testing.T) {
	env := setupCLI(t)
	seedAlertData(t, env)

	out, _, err := run(t, "alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "2 new alert(s)") {
		t.Errorf("expected 2 alerts:\n%s", out)
	}
	if !strings.Contains(out, "2026-01-08  readiness.score 50 (below 60)") {
		t.Errorf("missing readiness alert:\n%s", out)
	}
	if strings.Contains(out, "2026-01-10") {
		t.Errorf("a value equal to the threshold must not fire:\n%s", out)
	}

	out, _, err = run(t, "alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No new alerts.") {
		t.Errorf("second evaluation re-fired:\n%s", out)
	}

	states, _ := env.state.List(context.Background())
	if len(states) != 2 {
		t.Errorf("alert states = %d, want 2", len(states))
	}
	events, _ := env.events.Read(observability.EventFilter{Type: "alert.fired"})
	if len(events) != 2 {
		t.Errorf("alert.fired events = %d, want 2", len(events))
	}
}

func TestAlertsCmd_JSON(t *testing.T) {
	env := setupCLI(t)
	seedAlertData(t, env)

	out, _, err := run(t, "alerts", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var alerts []models.Alert
	if err := json.Unmarshal([]byte(out), &alerts); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, out)
	}
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2", len(alerts))
	}
	for _, a := range alerts {
		if a.ID == "" {
			t.Errorf("alert without ID: %+v", a)
		}
		if !a.TriggeredAt.Equal(testNow) {
			t.Errorf("TriggeredAt = %v, want the pinned clock", a.TriggeredAt)
		}
	}

	out, _, err = run(t, "alerts", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("no new alerts should print [], got %q", out)
	}
}

func TestAlertsCmd_Notify(t *testing.T) {
	env := setupCLI(t)
	seedAlertData(t, env)
	n := &notifierMock{}
	Notifier = n

	_, stderr, err := run(t, "alerts", "--notify")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n.sent) != 1 {
		t.Fatalf("sent %d messages, want 1 batch", len(n.sent))
	}
	if !strings.Contains(n.sent[0], "readiness.score") || !strings.Contains(n.sent[0], "sleep.efficiency") {
		t.Errorf("message misses an alert:\n%s", n.sent[0])
	}
	if !strings.Contains(stderr, "Sent 2 alert(s).") {
		t.Errorf("unexpected stderr: %q", stderr)
	}

	// Nothing new: nothing sent.
	if _, _, err := run(t, "alerts", "--notify"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n.sent) != 1 {
		t.Errorf("sent %d messages, want still 1", len(n.sent))
	}
}

func TestAlertsCmd_NotifyFailureKeepsState(t *testing.T) {
	env := setupCLI(t)
	seedAlertData(t, env)
	Notifier = &notifierMock{err: errors.New("telegram: 502")}

	_, _, err := run(t, "alerts", "--notify")
	if err == nil || !strings.Contains(err.Error(), "telegram: 502") {
		t.Fatalf("expected send error, got %v", err)
	}
	states, _ := env.state.List(context.Background())
	if len(states) != 2 {
		t.Errorf("alert states = %d, want 2 after a failed send", len(states))
	}
}

func TestAlertsCmd_NotifyUnconfigured(t *testing.T) {
	env := setupCLI(t)
	seedAlertData(t, env)

	_, _, err := run(t, "alerts", "--notify")
	if err == nil || !strings.Contains(err.Error(), "notifications are not configured") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAlertsStateAndClear(t *testing.T) {
	env := setupCLI(t)
	seedAlertData(t, env)
	if _, _, err := run(t, "alerts"); err != nil {
		t.Fatalf("evaluating: %v", err)
	}

	out, _, err := run(t, "alerts", "state")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "readiness.score") || !strings.Contains(out, "fired 2026-01-10 12:00 UTC") {
		t.Errorf("unexpected state listing:\n%s", out)
	}

	out, _, err = run(t, "alerts", "clear", "--metric", "readiness.score", "--day", "2026-01-08")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Cleared 1 alert state(s).") {
		t.Errorf("unexpected output: %s", out)
	}

	// Cleared pairs may fire again.
	out, _, err = run(t, "alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "1 new alert(s)") {
		t.Errorf("cleared pair did not re-fire:\n%s", out)
	}

	out, _, err = run(t, "alerts", "clear", "--all")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Cleared 2 alert state(s).") {
		t.Errorf("unexpected output: %s", out)
	}

	out, _, err = run(t, "alerts", "state")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No fired alerts.") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestAlertsClearCmd_FlagCombinations(t *testing.T) {
	setupCLI(t)

	cases := [][]string{
		{"alerts", "clear"},
		{"alerts", "clear", "--day", "2026-01-08"},
		{"alerts", "clear", "--all", "--metric", "readiness.score"},
		{"alerts", "clear", "--metric", "readiness.score", "--day", "not-a-day"},
	}
	for _, args := range cases {
		if _, _, err := run(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}

	out, _, err := run(t, "alerts", "clear", "--metric", "sleep.efficiency")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Cleared 0 alert state(s).") {
		t.Errorf("unexpected output: %s", out)
	}
}
