package integration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// fakeOura serves canned collection bodies keyed by path.
func fakeOura(t *testing.T, bodies map[string]string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("start_date") == "" || r.URL.Query().Get("end_date") == "" {
			http.Error(w, "missing date range", http.StatusBadRequest)
			return
		}
		key := strings.TrimPrefix(r.URL.Path, "/")
		if tok := r.URL.Query().Get("next_token"); tok != "" {
			key += "?" + tok
		}
		body, ok := bodies[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testClient(t *testing.T, baseURL string) *OuraClient {
	t.Helper()
	c, err := NewOuraClient(OuraClientOptions{BaseURL: baseURL, Token: "test-token", RequestsPerSec: 1000})
	require.NoError(t, err)
	return c
}

var (
	day1 = models.MustParseDay("2026-01-01")
	day2 = models.MustParseDay("2026-01-02")
)

func TestNewOuraClient_RequiresToken(t *testing.T) {
	_, err := NewOuraClient(OuraClientOptions{Token: "  "})
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestOuraClient_FetchReadinessFlattens(t *testing.T) {
	srv, _ := fakeOura(t, map[string]string{
		"daily_readiness": `{"data":[
			{"day":"2026-01-02","score":71,"temperature_deviation":-0.2,"contributors":{"hrv_balance":80,"resting_heart_rate":null},"timestamp":"2026-01-02T00:00:00+00:00"},
			{"day":"2026-01-01","score":64,"contributors":{"hrv_balance":70}}
		],"next_token":null}`,
	})

	set, err := testClient(t, srv.URL).Fetch(context.Background(), models.EndpointReadiness, day1, day2)
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, "2026-01-01", set[0].Day.String(), "sorted ascending")
	assert.Equal(t, models.EndpointReadiness, set[1].Endpoint)
	assert.Equal(t, map[string]float64{
		"score": 71, "temperature_deviation": -0.2, "contributors.hrv_balance": 80,
	}, set[1].Fields)
}

func TestOuraClient_FollowsNextToken(t *testing.T) {
	srv, calls := fakeOura(t, map[string]string{
		"daily_activity":    `{"data":[{"day":"2026-01-01","steps":9000}],"next_token":"p2"}`,
		"daily_activity?p2": `{"data":[{"day":"2026-01-02","steps":11000}],"next_token":""}`,
	})

	set, err := testClient(t, srv.URL).Fetch(context.Background(), models.EndpointActivity, day1, day2)
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, 11000.0, set[1].Fields["steps"])
	assert.Equal(t, int32(2), calls.Load())
}

const sleepPeriods = `{"data":[
	{"day":"2026-01-01","type":"late_nap","total_sleep_duration":1800,"efficiency":70,"average_hrv":20},
	{"day":"2026-01-01","type":"long_sleep","total_sleep_duration":27000,"efficiency":90,"average_hrv":42,"lowest_heart_rate":51,
	 "heart_rate":{"interval":300,"items":[60,58]},"hrv":{"interval":300,"items":[40,44]}},
	{"day":"2026-01-02","type":"sleep","total_sleep_duration":25200,"efficiency":85}
]}`

func TestOuraClient_FetchSleepMergesDailyScore(t *testing.T) {
	srv, _ := fakeOura(t, map[string]string{
		"sleep":       sleepPeriods,
		"daily_sleep": `{"data":[{"day":"2026-01-01","score":82,"contributors":{"rem_sleep":75}}]}`,
	})

	set, err := testClient(t, srv.URL).Fetch(context.Background(), models.EndpointSleep, day1, day2)
	require.NoError(t, err)
	require.Len(t, set, 2)

	first := set[0]
	assert.Equal(t, 27000.0, first.Fields["total_sleep_duration"], "long sleep wins over the nap")
	assert.Equal(t, 82.0, first.Fields["score"])
	assert.Equal(t, 75.0, first.Fields["contributors.rem_sleep"])
	assert.NotContains(t, first.Fields, "heart_rate.interval", "per-sample series are dropped")

	assert.NotContains(t, set[1].Fields, "score", "daily score not published yet")
	assert.Equal(t, 85.0, set[1].Fields["efficiency"])
}

func TestOuraClient_TextFieldsBecomeNumeric(t *testing.T) {
	srv, _ := fakeOura(t, map[string]string{
		"sleep": `{"data":[{"day":"2026-01-01","type":"long_sleep","total_sleep_duration":27000,
			"bedtime_start":"2025-12-31T23:15:00.000-08:00"}]}`,
		"daily_sleep": `{"data":[]}`,
		"daily_readiness": `{"data":[
			{"day":"2026-01-01","score":64,"day_summary":" Stressed "},
			{"day":"2026-01-02","score":70,"day_summary":"restored","stress_score":41},
			{"day":"2026-01-03","score":75,"day_summary":"unheard_of"}
		]}`,
	})
	c := testClient(t, srv.URL)

	sleep, err := c.Fetch(context.Background(), models.EndpointSleep, day1, day2)
	require.NoError(t, err)
	require.Len(t, sleep, 1)
	assert.Equal(t, float64(1767251700), sleep[0].Fields[core.BedtimeField], "2026-01-01T07:15:00Z")

	readiness, err := c.Fetch(context.Background(), models.EndpointReadiness, day1, day2)
	require.NoError(t, err)
	require.Len(t, readiness, 3)
	assert.Equal(t, 75.0, readiness[0].Fields["stress_score"], "label mapped case-insensitively")
	assert.Equal(t, 41.0, readiness[1].Fields["stress_score"], "reported score wins over the label")
	assert.NotContains(t, readiness[2].Fields, "stress_score")
}

func TestOuraClient_FetchHRV(t *testing.T) {
	srv, _ := fakeOura(t, map[string]string{"sleep": sleepPeriods})

	set, err := testClient(t, srv.URL).Fetch(context.Background(), models.EndpointHRV, day1, day2)
	require.NoError(t, err)
	require.Len(t, set, 1, "days without HRV fields are dropped")
	assert.Equal(t, map[string]float64{"average_hrv": 42, "lowest_heart_rate": 51}, set[0].Fields)
	assert.Equal(t, models.EndpointHRV, set[0].Endpoint)
}

func TestOuraClient_Errors(t *testing.T) {
	srv, _ := fakeOura(t, map[string]string{})

	_, err := testClient(t, srv.URL).Fetch(context.Background(), models.EndpointReadiness, day1, day2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")

	bad, err := NewOuraClient(OuraClientOptions{BaseURL: srv.URL, Token: "wrong", RequestsPerSec: 1000})
	require.NoError(t, err)
	_, err = bad.Fetch(context.Background(), models.EndpointActivity, day1, day2)
	assert.True(t, errors.Is(err, ErrUnauthorized), "got %v", err)

	_, err = testClient(t, srv.URL).Fetch(context.Background(), models.Endpoint("steps"), day1, day2)
	assert.Error(t, err)
}

func TestOuraClient_CancelledContext(t *testing.T) {
	srv, calls := fakeOura(t, map[string]string{"daily_activity": `{"data":[]}`})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(t, srv.URL).Fetch(ctx, models.EndpointActivity, day1, day2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestFlattenNumeric(t *testing.T) {
	doc := map[string]any{
		"score": 80.0,
		"id":    "abc",
		"ok":    true,
		"items": []any{1.0, 2.0},
		"a":     map[string]any{"b": map[string]any{"c": 3.0}, "d": nil},
		"skip":  5.0,
	}
	assert.Equal(t, map[string]float64{"score": 80, "a.b.c": 3}, FlattenNumeric(doc, "skip"))
}
