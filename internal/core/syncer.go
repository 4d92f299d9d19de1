package core

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/internal/storage"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// Fetcher retrieves dated records for one endpoint from the remote
// provider. It is assumed to be authenticated and rate limited already.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint models.Endpoint, start, end models.Day) (models.RecordSet, error)
}

// RecordSink receives records after they were stored, e.g. a time-series
// mirror. Sink failures never fail a sync.
type RecordSink interface {
	WriteRecords(ctx context.Context, set models.RecordSet) error
}

// SyncOptions carries the optional collaborators of a Syncer.
type SyncOptions struct {
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	EventLog observability.EventLog
	Sink     RecordSink
	// Concurrency bounds parallel endpoint fetches; 0 means one per endpoint.
	Concurrency int
}

// Syncer pulls records from a Fetcher into the record store.
type Syncer struct {
	fetcher Fetcher
	store   storage.RecordStore
	opts    SyncOptions
}

// NewSyncer creates a Syncer.
func NewSyncer(fetcher Fetcher, store storage.RecordStore, opts SyncOptions) *Syncer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{fetcher: fetcher, store: store, opts: opts}
}

// SyncResult is the outcome for one endpoint. FetchErr is set when the
// remote call failed; nothing was stored for that endpoint then.
type SyncResult struct {
	Endpoint models.Endpoint `json:"endpoint"`
	Fetched  int             `json:"fetched"`
	Stored   int             `json:"stored"`
	Skipped  int             `json:"skipped"`
	FetchErr error           `json:"-"`
}

// SyncReport collects the per-endpoint results of one sync.
type SyncReport struct {
	Start   models.Day   `json:"start"`
	End     models.Day   `json:"end"`
	Results []SyncResult `json:"results"`
}

// Stored is the number of records written across endpoints.
func (r SyncReport) Stored() int {
	n := 0
	for _, res := range r.Results {
		n += res.Stored
	}
	return n
}

// Failed returns the endpoints whose fetch failed.
func (r SyncReport) Failed() []models.Endpoint {
	var out []models.Endpoint
	for _, res := range r.Results {
		if res.FetchErr != nil {
			out = append(out, res.Endpoint)
		}
	}
	return out
}

// Sync fetches [start, end] for each endpoint concurrently and upserts the
// results. A remote error is logged and leaves the cached data in place;
// only store failures abort the sync and are returned. Invalid records
// from the provider are skipped.
func (s *Syncer) Sync(ctx context.Context, endpoints []models.Endpoint, start, end models.Day) (SyncReport, error) {
	if len(endpoints) == 0 {
		endpoints = models.AllEndpoints()
	}
	report := SyncReport{Start: start, End: end, Results: make([]SyncResult, len(endpoints))}

	g, gctx := errgroup.WithContext(ctx)
	limit := s.opts.Concurrency
	if limit <= 0 {
		limit = len(endpoints)
	}
	g.SetLimit(limit)

	for i, e := range endpoints {
		report.Results[i].Endpoint = e
		g.Go(func() error {
			return s.syncEndpoint(gctx, e, start, end, &report.Results[i])
		})
	}
	err := g.Wait()

	s.recordEvent(report, err)
	if err != nil {
		return report, err
	}
	return report, nil
}

func (s *Syncer) syncEndpoint(ctx context.Context, e models.Endpoint, start, end models.Day, res *SyncResult) error {
	log := s.opts.Logger.With("endpoint", string(e))

	set, err := s.fetcher.Fetch(ctx, e, start, end)
	if err != nil {
		res.FetchErr = err
		s.opts.Metrics.FetchError(e)
		log.Warn("fetch failed, serving cached data", "error", err)
		return nil
	}
	res.Fetched = len(set)

	stored := make(models.RecordSet, 0, len(set))
	for _, r := range set {
		r.Endpoint = e
		r = DeriveSleepFields(r)
		if err := r.Validate(); err != nil {
			res.Skipped++
			log.Warn("skipping invalid record", "day", r.Day.String(), "error", err)
			continue
		}
		if err := s.store.Upsert(ctx, e, r); err != nil {
			return fmt.Errorf("storing %s/%s: %w", e, r.Day, err)
		}
		res.Stored++
		stored = append(stored, r)
	}
	log.Info("endpoint synced", "fetched", res.Fetched, "stored", res.Stored)

	if s.opts.Sink != nil && len(stored) > 0 {
		if err := s.opts.Sink.WriteRecords(ctx, stored); err != nil {
			log.Warn("mirroring records failed", "error", err)
		}
	}
	return nil
}

func (s *Syncer) recordEvent(report SyncReport, syncErr error) {
	if s.opts.EventLog == nil {
		return
	}
	ev := observability.Event{
		Level:   "INFO",
		Type:    observability.EventSyncCompleted,
		Message: fmt.Sprintf("stored %d records for %s to %s", report.Stored(), report.Start, report.End),
		Data:    map[string]any{"start": report.Start.String(), "end": report.End.String()},
	}
	for _, res := range report.Results {
		ev.Data[string(res.Endpoint)] = res.Stored
	}
	if failed := report.Failed(); len(failed) > 0 {
		ev.Level = "WARN"
		ev.Data["failed"] = failed
	}
	if syncErr != nil {
		ev.Level = "ERROR"
		ev.Type = "sync.failed"
		ev.Message = syncErr.Error()
	}
	if err := s.opts.EventLog.Write(ev); err != nil {
		s.opts.Logger.Warn("writing sync event failed", "error", err)
	}
}
