package cli

import (
	"log/slog"
	"time"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/internal/storage"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// DataDir is the resolved data directory (OURA_HOME or ~/.oura).
var DataDir string

// Config is the loaded configuration.
var Config *models.Config

// Logger is the process logger.
var Logger *slog.Logger

// Clock returns the current time; tests pin it.
var Clock = time.Now

// Service instances, set during app initialization in app.go.
var (
	Store      storage.RecordStore
	AlertState storage.AlertStateStore
	Analyzer   *core.Analyzer
	Alerts     *core.AlertEngine
	Retention  *core.RetentionManager
	Guard      *core.CacheGuard
	Exporter   *core.Exporter
	// Syncer is nil when no API token is configured.
	Syncer *core.Syncer
	// SyncerErr explains why Syncer is nil.
	SyncerErr error
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog observability.EventLog
	Metrics  *observability.Metrics
	// Notifier is nil when notifications are disabled.
	Notifier observability.Notifier
)
