package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/valter-silva-au/oura-analytics/internal/storage"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// ClearResult reports what a guarded clear removed. Without confirmation it
// holds the counts that would have been removed.
type ClearResult struct {
	Deleted       map[models.Endpoint]int `json:"deleted"`
	ClearedStates int                     `json:"cleared_states"`
	Confirmed     bool                    `json:"confirmed"`
}

// Total is the number of records across all endpoints.
func (r ClearResult) Total() int {
	n := 0
	for _, c := range r.Deleted {
		n += c
	}
	return n
}

// CacheGuard gates every destructive store operation behind an explicit
// confirmation. Unconfirmed calls only count and return
// models.ErrDestructiveOpUnconfirmed.
type CacheGuard struct {
	store     storage.RecordStore
	state     storage.AlertStateStore
	retention *RetentionManager
	logger    *slog.Logger
}

// NewCacheGuard creates a CacheGuard. retention may be nil when cleanup is
// not needed.
func NewCacheGuard(store storage.RecordStore, state storage.AlertStateStore, retention *RetentionManager, logger *slog.Logger) *CacheGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheGuard{store: store, state: state, retention: retention, logger: logger}
}

// ClearCache removes every cached record, or only those of endpoint when it
// is non-nil. Alert state is kept.
func (g *CacheGuard) ClearCache(ctx context.Context, endpoint *models.Endpoint, confirm bool) (ClearResult, error) {
	endpoints := models.AllEndpoints()
	if endpoint != nil {
		endpoints = []models.Endpoint{*endpoint}
	}
	return g.clear(ctx, endpoints, false, confirm)
}

// ClearAll removes every cached record and the whole alert state.
func (g *CacheGuard) ClearAll(ctx context.Context, confirm bool) (ClearResult, error) {
	return g.clear(ctx, models.AllEndpoints(), true, confirm)
}

// Cleanup runs retention when confirmed and a preview otherwise.
func (g *CacheGuard) Cleanup(ctx context.Context, horizonDays int, endpoint *models.Endpoint, confirm bool) (CleanupResult, error) {
	if g.retention == nil {
		return CleanupResult{}, fmt.Errorf("cleanup: no retention manager configured")
	}
	if !confirm {
		res, err := g.retention.Preview(ctx, horizonDays, endpoint)
		if err != nil {
			return res, err
		}
		return res, fmt.Errorf("cleanup of %d records and %d alert states: %w", res.Total(), res.PrunedStates, models.ErrDestructiveOpUnconfirmed)
	}
	return g.retention.Cleanup(ctx, horizonDays, endpoint)
}

func (g *CacheGuard) clear(ctx context.Context, endpoints []models.Endpoint, withState, confirm bool) (ClearResult, error) {
	res := ClearResult{Deleted: make(map[models.Endpoint]int), Confirmed: confirm}

	if !confirm {
		for _, e := range endpoints {
			n, err := g.store.CountRange(ctx, e, storage.AnyDay)
			if err != nil {
				return res, fmt.Errorf("counting %s: %w", e, err)
			}
			res.Deleted[e] = n
		}
		if withState && g.state != nil {
			n, err := g.state.Count(ctx, storage.MatchAll)
			if err != nil {
				return res, fmt.Errorf("counting alert state: %w", err)
			}
			res.ClearedStates = n
		}
		return res, fmt.Errorf("clearing %d records: %w", res.Total(), models.ErrDestructiveOpUnconfirmed)
	}

	var clearState func() error
	if withState && g.state != nil {
		clearState = func() error {
			n, err := g.state.Clear(ctx, storage.MatchAll)
			if err != nil {
				return fmt.Errorf("clearing alert state: %w", err)
			}
			res.ClearedStates += n
			return nil
		}
	}
	deleted, err := g.store.DeleteRange(ctx, endpoints, storage.AnyDay, clearState)
	if err != nil {
		res.ClearedStates = 0
		return res, fmt.Errorf("clearing cache: %w", err)
	}
	res.Deleted = deleted
	g.logger.Info("cache cleared", "records", res.Total(), "alert_states", res.ClearedStates)
	return res, nil
}
