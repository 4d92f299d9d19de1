package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// memoryRecordStore is a map-backed RecordStore for tests and dry runs.
type memoryRecordStore struct {
	mu      sync.RWMutex
	records map[models.Endpoint]map[string]models.MetricRecord
}

// NewMemoryRecordStore creates an empty in-memory RecordStore.
func NewMemoryRecordStore() RecordStore {
	return &memoryRecordStore{
		records: make(map[models.Endpoint]map[string]models.MetricRecord),
	}
}

func (s *memoryRecordStore) Upsert(ctx context.Context, endpoint models.Endpoint, record models.MetricRecord) error {
	if err := validateUpsert(endpoint, &record); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	days, ok := s.records[endpoint]
	if !ok {
		days = make(map[string]models.MetricRecord)
		s.records[endpoint] = days
	}
	days[record.Day.String()] = record.Clone()
	return nil
}

// sorted returns a sorted deep copy of the matching records. Caller holds
// at least the read lock.
func (s *memoryRecordStore) sorted(endpoint models.Endpoint, pred DayPredicate) models.RecordSet {
	var set models.RecordSet
	for _, r := range s.records[endpoint] {
		if pred(r.Day) {
			set = append(set, r.Clone())
		}
	}
	set.Sort()
	return set
}

func (s *memoryRecordStore) ReadRange(ctx context.Context, endpoint models.Endpoint, start, end models.Day) (models.RecordSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted(endpoint, func(d models.Day) bool { return d.Within(start, end) }), nil
}

func (s *memoryRecordStore) ListEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Endpoint
	for _, e := range models.AllEndpoints() {
		if len(s.records[e]) > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryRecordStore) Stats(ctx context.Context, endpoint models.Endpoint) (models.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.StoreStats{Endpoint: endpoint}
	for _, r := range s.sorted(endpoint, AnyDay) {
		if stats.Count == 0 {
			stats.MinDay = r.Day
		}
		stats.Count++
		stats.MaxDay = r.Day
		if data, err := json.Marshal(r); err == nil {
			stats.TotalBytes += int64(len(data))
		}
	}
	return stats, nil
}

func (s *memoryRecordStore) CountRange(ctx context.Context, endpoint models.Endpoint, pred DayPredicate) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.records[endpoint] {
		if pred(r.Day) {
			n++
		}
	}
	return n, nil
}

func (s *memoryRecordStore) DeleteRange(ctx context.Context, endpoints []models.Endpoint, pred DayPredicate, beforeCommit func() error) (map[models.Endpoint]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eps := snapshotEndpoints(endpoints)
	victims := make(map[models.Endpoint][]string, len(eps))
	deleted := make(map[models.Endpoint]int, len(eps))
	for _, e := range eps {
		for key, r := range s.records[e] {
			if pred(r.Day) {
				victims[e] = append(victims[e], key)
			}
		}
		deleted[e] = len(victims[e])
	}
	if beforeCommit != nil {
		if err := beforeCommit(); err != nil {
			return nil, err
		}
	}
	for e, keys := range victims {
		for _, key := range keys {
			delete(s.records[e], key)
		}
	}
	return deleted, nil
}

func (s *memoryRecordStore) Snapshot(ctx context.Context, endpoints []models.Endpoint) (map[models.Endpoint]models.RecordSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Endpoint]models.RecordSet)
	for _, e := range snapshotEndpoints(endpoints) {
		out[e] = s.sorted(e, AnyDay)
	}
	return out, nil
}

func (s *memoryRecordStore) Close() error { return nil }
