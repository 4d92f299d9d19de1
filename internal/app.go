// Package internal provides the App struct that wires all components of
// oura-analytics together and initializes the CLI layer.
package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valter-silva-au/oura-analytics/internal/cli"
	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/internal/integration"
	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/internal/storage"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// On-disk layout under the data directory.
const (
	CacheDirName      = "cache"
	BadgerDirName     = "badger"
	AlertStateFile    = "alert_state.yaml"
	EventLogFile      = "events.jsonl"
	DefaultDataDirRel = ".oura"
)

// App holds all service dependencies of oura-analytics.
type App struct {
	DataDir string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.Config

	// Observability
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	EventLog observability.EventLog
	Notifier observability.Notifier

	// Storage layer
	Store      storage.RecordStore
	AlertState storage.AlertStateStore

	// Core services
	Analyzer  *core.Analyzer
	Alerts    *core.AlertEngine
	Retention *core.RetentionManager
	Guard     *core.CacheGuard
	Exporter  *core.Exporter
	Syncer    *core.Syncer

	// Integration services
	Oura   *integration.OuraClient
	Mirror *integration.InfluxMirror
}

// NewApp loads the configuration from dataDir and wires every component.
// logOut receives log output; os.Stderr when nil.
func NewApp(dataDir string, logOut io.Writer) (*App, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	app := &App{DataDir: dataDir}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(dataDir)
	cfg, err := app.ConfigMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	app.Config = cfg

	// --- Observability ---
	if logOut == nil {
		logOut = os.Stderr
	}
	app.Logger = NewLogger(cfg.LogLevel, logOut)
	slog.SetDefault(app.Logger)
	app.Metrics = observability.NewMetrics()

	app.EventLog, err = observability.NewJSONLEventLog(filepath.Join(dataDir, EventLogFile))
	if err != nil {
		// Non-fatal: run without an event log.
		app.Logger.Warn("event log disabled", "error", err)
		app.EventLog = nil
	}
	app.Notifier = newNotifier(cfg.Notifications)

	// --- Storage layer ---
	storeOpts := storage.StoreOptions{
		Logger:  app.Logger,
		Metrics: app.Metrics,
		Lock: storage.LockOptions{
			MaxTries:   uint(cfg.Store.LockRetries),
			MaxElapsed: time.Duration(cfg.Store.LockTimeoutMS) * time.Millisecond,
		},
	}
	app.Store, app.AlertState, err = openStores(dataDir, cfg.Store.Backend, storeOpts)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	// --- Core services ---
	app.Analyzer = core.NewAnalyzer(core.AnalyzerConfigFrom(cfg.Analysis))
	app.Alerts = core.NewAlertEngine(app.AlertState, core.AlertEngineOptions{
		Logger:   app.Logger,
		Metrics:  app.Metrics,
		EventLog: app.EventLog,
	})
	app.Retention = core.NewRetentionManager(app.Store, app.AlertState, core.RetentionOptions{
		Logger:   app.Logger,
		EventLog: app.EventLog,
	})
	app.Guard = core.NewCacheGuard(app.Store, app.AlertState, app.Retention, app.Logger)
	app.Exporter = core.NewExporter(app.Store, app.EventLog, nil)

	// --- Integration services ---
	var syncErr error
	app.Oura, syncErr = integration.NewOuraClientFromConfig(cfg.Oura, app.Logger)
	if cfg.Influx.Enabled() {
		app.Mirror, err = integration.NewInfluxMirror(cfg.Influx, app.Logger)
		if err != nil {
			app.Logger.Warn("influx mirror disabled", "error", err)
		}
	}
	if syncErr == nil {
		opts := core.SyncOptions{Logger: app.Logger, Metrics: app.Metrics, EventLog: app.EventLog}
		if app.Mirror != nil {
			opts.Sink = app.Mirror
		}
		app.Syncer = core.NewSyncer(app.Oura, app.Store, opts)
	}

	// --- Wire CLI package-level variables ---
	cli.DataDir = dataDir
	cli.Config = cfg
	cli.Logger = app.Logger
	cli.Store = app.Store
	cli.AlertState = app.AlertState
	cli.Analyzer = app.Analyzer
	cli.Alerts = app.Alerts
	cli.Retention = app.Retention
	cli.Guard = app.Guard
	cli.Exporter = app.Exporter
	cli.Syncer = app.Syncer
	cli.SyncerErr = syncErr

	cli.EventLog = app.EventLog
	cli.Metrics = app.Metrics
	cli.Notifier = app.Notifier

	return app, nil
}

// openStores opens the record store and alert state for the configured
// backend. The memory backend keeps alert state in memory too.
func openStores(dataDir, backend string, opts storage.StoreOptions) (storage.RecordStore, storage.AlertStateStore, error) {
	statePath := filepath.Join(dataDir, AlertStateFile)

	var (
		store storage.RecordStore
		err   error
	)
	switch backend {
	case "", "file":
		store, err = storage.NewFileRecordStore(filepath.Join(dataDir, CacheDirName), opts)
	case "badger":
		store, err = storage.NewBadgerRecordStore(storage.BadgerConfig{Path: filepath.Join(dataDir, BadgerDirName)}, opts)
	case "memory":
		return storage.NewMemoryRecordStore(), storage.NewMemoryAlertStateStore(), nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s store: %w", backend, err)
	}

	state, err := storage.NewFileAlertStateStore(statePath, opts.Lock)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("opening alert state: %w", err)
	}
	return store, state, nil
}

// newNotifier builds the configured sinks. It returns nil when
// notifications are disabled or no sink is complete.
func newNotifier(cfg models.NotificationConfig) observability.Notifier {
	if !cfg.Enabled {
		return nil
	}
	var sinks []observability.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		sinks = append(sinks, observability.NewTelegramNotifier(observability.DefaultTelegramAPI, cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Slack.WebhookURL != "" {
		sinks = append(sinks, observability.NewSlackNotifier(cfg.Slack.WebhookURL))
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return observability.NewMultiNotifier(sinks...)
	}
}

// NewLogger returns a text logger at the named level (debug, info, warn or
// error; anything else is info).
func NewLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Close releases the store, the influx client and the event log. It is safe
// on a partially initialized App.
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Mirror != nil {
		a.Mirror.Close()
	}
	if a.EventLog != nil {
		errs = append(errs, a.EventLog.Close())
	}
	return errors.Join(errs...)
}

// ResolveDataDir returns $OURA_HOME, or ~/.oura, or .oura in the working
// directory when the home directory is unknown.
func ResolveDataDir() string {
	if home := os.Getenv("OURA_HOME"); home != "" {
		return home
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, DefaultDataDirRel)
	}
	return DefaultDataDirRel
}
