package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/internal/storage"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// testNow is the pinned clock of CLI tests; "today" is 2026-01-10.
var testNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

// testEnv holds the services wired by setupCLI.
type testEnv struct {
	store  storage.RecordStore
	state  storage.AlertStateStore
	events observability.EventLog
}

// setupCLI wires the package-level services to in-memory stores and a
// temp event log, pins Clock and resets every flag. Everything is restored
// when the test ends.
func setupCLI(t *testing.T) *testEnv {
	t.Helper()

	saved := struct {
		dataDir   string
		cfg       *models.Config
		logger    *slog.Logger
		clock     func() time.Time
		store     storage.RecordStore
		state     storage.AlertStateStore
		analyzer  *core.Analyzer
		alerts    *core.AlertEngine
		retention *core.RetentionManager
		guard     *core.CacheGuard
		exporter  *core.Exporter
		syncer    *core.Syncer
		syncerErr error
		events    observability.EventLog
		metrics   *observability.Metrics
		notifier  observability.Notifier
	}{DataDir, Config, Logger, Clock, Store, AlertState, Analyzer, Alerts, Retention, Guard, Exporter, Syncer, SyncerErr, EventLog, Metrics, Notifier}
	t.Cleanup(func() {
		DataDir, Config, Logger, Clock = saved.dataDir, saved.cfg, saved.logger, saved.clock
		Store, AlertState, Analyzer, Alerts = saved.store, saved.state, saved.analyzer, saved.alerts
		Retention, Guard, Exporter = saved.retention, saved.guard, saved.exporter
		Syncer, SyncerErr = saved.syncer, saved.syncerErr
		EventLog, Metrics, Notifier = saved.events, saved.metrics, saved.notifier
	})

	dir := t.TempDir()
	events, err := observability.NewJSONLEventLog(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatalf("opening event log: %v", err)
	}
	t.Cleanup(func() { _ = events.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }
	cfg := core.DefaultConfig()
	cfg.Store.Backend = "memory"

	env := &testEnv{
		store:  storage.NewMemoryRecordStore(),
		state:  storage.NewMemoryAlertStateStore(),
		events: events,
	}

	DataDir = dir
	Config = cfg
	Logger = logger
	Clock = clock
	Store = env.store
	AlertState = env.state
	EventLog = events
	Metrics = observability.NewMetrics()
	Notifier = nil
	Analyzer = core.NewAnalyzer(core.AnalyzerConfigFrom(cfg.Analysis))
	Alerts = core.NewAlertEngine(env.state, core.AlertEngineOptions{Logger: logger, Metrics: Metrics, EventLog: events, Clock: clock})
	Retention = core.NewRetentionManager(env.store, env.state, core.RetentionOptions{Logger: logger, EventLog: events, Clock: clock})
	Guard = core.NewCacheGuard(env.store, env.state, Retention, logger)
	Exporter = core.NewExporter(env.store, events, clock)
	Syncer = nil
	SyncerErr = nil

	resetFlags(rootCmd)
	return env
}

// resetFlags restores every flag of cmd and its subcommands to its default,
// since cobra keeps parsed values between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// seed upserts one record per (day, value) pair for a single field.
func (e *testEnv) seed(t *testing.T, endpoint models.Endpoint, field string, values map[string]float64) {
	t.Helper()
	for day, v := range values {
		rec := models.MetricRecord{Day: models.MustParseDay(day), Fields: map[string]float64{field: v}}
		if err := e.store.Upsert(context.Background(), endpoint, rec); err != nil {
			t.Fatalf("seeding %s %s: %v", endpoint, day, err)
		}
	}
}

// seedRecord upserts a record with several fields.
func (e *testEnv) seedRecord(t *testing.T, endpoint models.Endpoint, day string, fields map[string]float64) {
	t.Helper()
	rec := models.MetricRecord{Day: models.MustParseDay(day), Fields: fields}
	if err := e.store.Upsert(context.Background(), endpoint, rec); err != nil {
		t.Fatalf("seeding %s %s: %v", endpoint, day, err)
	}
}

func (e *testEnv) count(t *testing.T, endpoint models.Endpoint) int {
	t.Helper()
	st, err := e.store.Stats(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("stats %s: %v", endpoint, err)
	}
	return st.Count
}

// fakeFetcher serves canned records per endpoint.
type fakeFetcher struct {
	sets map[models.Endpoint]models.RecordSet
	errs map[models.Endpoint]error
}

func (f *fakeFetcher) Fetch(_ context.Context, e models.Endpoint, start, end models.Day) (models.RecordSet, error) {
	if err := f.errs[e]; err != nil {
		return nil, err
	}
	var out models.RecordSet
	for _, r := range f.sets[e] {
		if r.Day.Within(start, end) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// notifierMock records sent messages.
type notifierMock struct {
	sent []string
	err  error
}

func (m *notifierMock) Send(_ context.Context, message string) error {
	m.sent = append(m.sent, message)
	return m.err
}
