package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/internal/storage"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// CleanupResult reports what a retention run removed, or would remove when
// DryRun is set.
type CleanupResult struct {
	Cutoff       models.Day              `json:"cutoff"`
	Deleted      map[models.Endpoint]int `json:"deleted"`
	PrunedStates int                     `json:"pruned_states"`
	DryRun       bool                    `json:"dry_run"`
}

// Total is the number of records across all endpoints.
func (r CleanupResult) Total() int {
	n := 0
	for _, c := range r.Deleted {
		n += c
	}
	return n
}

// RetentionOptions carries the optional collaborators of a RetentionManager.
type RetentionOptions struct {
	Logger   *slog.Logger
	EventLog observability.EventLog
	// Clock supplies "today"; time.Now when nil.
	Clock func() time.Time
}

// RetentionManager purges records and alert state older than a horizon.
type RetentionManager struct {
	store    storage.RecordStore
	state    storage.AlertStateStore
	logger   *slog.Logger
	eventLog observability.EventLog
	now      func() time.Time
}

// NewRetentionManager creates a RetentionManager over a record store and an
// alert state store.
func NewRetentionManager(store storage.RecordStore, state storage.AlertStateStore, opts RetentionOptions) *RetentionManager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &RetentionManager{
		store:    store,
		state:    state,
		logger:   opts.Logger,
		eventLog: opts.EventLog,
		now:      opts.Clock,
	}
}

// Cutoff returns today minus horizonDays.
func (m *RetentionManager) Cutoff(horizonDays int) models.Day {
	return models.DayOf(m.now()).AddDays(-horizonDays)
}

// Cleanup deletes records with day < today - horizonDays, and alert state
// entries older than the same cutoff. When endpoint is non-nil only that
// endpoint and the alert state of its metrics are touched. Running it
// twice without new data deletes nothing the second time.
func (m *RetentionManager) Cleanup(ctx context.Context, horizonDays int, endpoint *models.Endpoint) (CleanupResult, error) {
	return m.run(ctx, horizonDays, endpoint, false)
}

// Preview reports what Cleanup would delete without deleting anything.
func (m *RetentionManager) Preview(ctx context.Context, horizonDays int, endpoint *models.Endpoint) (CleanupResult, error) {
	return m.run(ctx, horizonDays, endpoint, true)
}

func (m *RetentionManager) run(ctx context.Context, horizonDays int, endpoint *models.Endpoint, dryRun bool) (CleanupResult, error) {
	if horizonDays < 0 {
		return CleanupResult{}, fmt.Errorf("retention horizon must not be negative, got %d", horizonDays)
	}
	cutoff := m.Cutoff(horizonDays)
	res := CleanupResult{Cutoff: cutoff, Deleted: make(map[models.Endpoint]int), DryRun: dryRun}

	endpoints := models.AllEndpoints()
	prefix := ""
	if endpoint != nil {
		endpoints = []models.Endpoint{*endpoint}
		prefix = string(*endpoint) + "."
	}

	pred := storage.Before(cutoff)
	match := storage.MatchBefore(cutoff, prefix)

	if dryRun {
		for _, e := range endpoints {
			n, err := m.store.CountRange(ctx, e, pred)
			if err != nil {
				return res, fmt.Errorf("retention on %s: %w", e, err)
			}
			res.Deleted[e] = n
		}
		if m.state != nil {
			n, err := m.state.Count(ctx, match)
			if err != nil {
				return res, fmt.Errorf("counting alert state: %w", err)
			}
			res.PrunedStates = n
		}
		return res, nil
	}

	// Alert state is pruned while the records are staged, so a failed
	// prune leaves both untouched.
	var prune func() error
	if m.state != nil {
		prune = func() error {
			n, err := m.state.Clear(ctx, match)
			if err != nil {
				return fmt.Errorf("pruning alert state: %w", err)
			}
			res.PrunedStates += n
			return nil
		}
	}
	deleted, err := m.store.DeleteRange(ctx, endpoints, pred, prune)
	if err != nil {
		res.PrunedStates = 0
		return res, fmt.Errorf("retention cleanup: %w", err)
	}
	res.Deleted = deleted

	m.logger.Info("retention cleanup", "cutoff", cutoff.String(), "records", res.Total(), "alert_states", res.PrunedStates)
	m.recordEvent(res)
	return res, nil
}

func (m *RetentionManager) recordEvent(res CleanupResult) {
	if m.eventLog == nil || (res.Total() == 0 && res.PrunedStates == 0) {
		return
	}
	data := map[string]any{"cutoff": res.Cutoff.String(), "alert_states": res.PrunedStates}
	for e, n := range res.Deleted {
		data[string(e)] = n
	}
	if err := m.eventLog.Write(observability.Event{
		Time:    m.now().UTC(),
		Type:    observability.EventRetentionCleanup,
		Message: fmt.Sprintf("removed %d records before %s", res.Total(), res.Cutoff),
		Data:    data,
	}); err != nil {
		m.logger.Warn("writing retention event failed", "error", err)
	}
}
