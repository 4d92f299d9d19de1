package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

func TestFetchCmd_StoresRecentDays(t *testing.T) {
	env := setupCLI(t)
	fetcher := &fakeFetcher{sets: map[models.Endpoint]models.RecordSet{
		models.EndpointReadiness: {
			{Day: models.MustParseDay("2026-01-01"), Fields: map[string]float64{"score": 70}},
			{Day: models.MustParseDay("2026-01-09"), Fields: map[string]float64{"score": 75}},
			{Day: models.MustParseDay("2026-01-10"), Fields: map[string]float64{"score": 80}},
		},
	}}
	Syncer = core.NewSyncer(fetcher, env.store, core.SyncOptions{Logger: Logger})

	out, _, err := run(t, "fetch", "--days", "2", "--endpoint", "readiness")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Fetched 2026-01-09 to 2026-01-10") {
		t.Errorf("missing range line:\n%s", out)
	}
	if !strings.Contains(out, "2 stored") {
		t.Errorf("missing stored count:\n%s", out)
	}
	if got := env.count(t, models.EndpointReadiness); got != 2 {
		t.Errorf("cached readiness records = %d, want 2", got)
	}
}

func TestFetchCmd_FailedEndpointKeepsCache(t *testing.T) {
	env := setupCLI(t)
	env.seed(t, models.EndpointHRV, "average_hrv", map[string]float64{"2026-01-08": 41})
	fetcher := &fakeFetcher{errs: map[models.Endpoint]error{models.EndpointHRV: errors.New("503 from provider")}}
	Syncer = core.NewSyncer(fetcher, env.store, core.SyncOptions{Logger: Logger})

	out, _, err := run(t, "fetch", "--endpoint", "hrv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "failed: 503 from provider (cached data kept)") {
		t.Errorf("missing failure line:\n%s", out)
	}
	if got := env.count(t, models.EndpointHRV); got != 1 {
		t.Errorf("cached hrv records = %d, want 1", got)
	}
}

func TestFetchCmd_NoToken(t *testing.T) {
	setupCLI(t)
	SyncerErr = errors.New("OURA_API_TOKEN not set")

	_, _, err := run(t, "fetch")
	if err == nil || !strings.Contains(err.Error(), "fetch unavailable: OURA_API_TOKEN not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFetchCmd_InvalidEndpoint(t *testing.T) {
	env := setupCLI(t)
	Syncer = core.NewSyncer(&fakeFetcher{}, env.store, core.SyncOptions{Logger: Logger})

	_, _, err := run(t, "fetch", "--endpoint", "steps")
	if err == nil || !strings.Contains(err.Error(), `unknown endpoint "steps"`) {
		t.Errorf("unexpected error: %v", err)
	}
}
