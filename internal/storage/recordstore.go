// Package storage persists daily metric records and fired alert state.
package storage

import (
	"context"
	"fmt"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// DayPredicate selects days for deletion or counting.
type DayPredicate func(day models.Day) bool

// Before returns a predicate matching days strictly earlier than cutoff.
func Before(cutoff models.Day) DayPredicate {
	return func(day models.Day) bool { return day.Before(cutoff) }
}

// AnyDay matches every day.
func AnyDay(models.Day) bool { return true }

// RecordStore persists one record per (endpoint, day). Re-writing a day
// overwrites it in place. Reads of absent endpoints return an empty set and
// unreadable records are skipped, so only lock and disk failures surface as
// errors.
type RecordStore interface {
	// Upsert writes or overwrites the record for (endpoint, record.Day).
	Upsert(ctx context.Context, endpoint models.Endpoint, record models.MetricRecord) error
	// ReadRange returns records with start <= day <= end, ascending by day.
	ReadRange(ctx context.Context, endpoint models.Endpoint, start, end models.Day) (models.RecordSet, error)
	// ListEndpoints returns the endpoints holding at least one record.
	ListEndpoints(ctx context.Context) ([]models.Endpoint, error)
	// Stats describes the records cached for one endpoint.
	Stats(ctx context.Context, endpoint models.Endpoint) (models.StoreStats, error)
	// DeleteRange removes every record of endpoints whose day matches pred
	// as one unit: either all matches across all endpoints are removed or
	// none are. A nil slice means all endpoints. beforeCommit, when non-nil,
	// runs once the matches are staged; an error from it restores them.
	// It may run more than once on backends that retry conflicts and must
	// not call back into the store. The result holds a count for every
	// requested endpoint.
	DeleteRange(ctx context.Context, endpoints []models.Endpoint, pred DayPredicate, beforeCommit func() error) (map[models.Endpoint]int, error)
	// CountRange is the dry-run form of DeleteRange for one endpoint.
	CountRange(ctx context.Context, endpoint models.Endpoint, pred DayPredicate) (int, error)
	// Snapshot returns every record of the given endpoints as of a single
	// point in time. A nil slice means all endpoints.
	Snapshot(ctx context.Context, endpoints []models.Endpoint) (map[models.Endpoint]models.RecordSet, error)
	Close() error
}

// validateUpsert is the shared boundary check for every backend.
func validateUpsert(endpoint models.Endpoint, record *models.MetricRecord) error {
	if record.Endpoint == "" {
		record.Endpoint = endpoint
	}
	if record.Endpoint != endpoint {
		return fmt.Errorf("%w: record endpoint %q does not match %q", models.ErrInvalidRecord, record.Endpoint, endpoint)
	}
	return record.Validate()
}

func snapshotEndpoints(endpoints []models.Endpoint) []models.Endpoint {
	if len(endpoints) == 0 {
		return models.AllEndpoints()
	}
	return endpoints
}
