package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"pgregory.net/rapid"

	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

func TestFileRecordStore_Layout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileRecordStore(dir, StoreOptions{})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	mustUpsert(t, s, models.EndpointReadiness, rec("2026-01-10", map[string]float64{"score": 71}))

	path := filepath.Join(dir, "readiness", "2026-01-10.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected record file at %s: %v", path, err)
	}
	if !strings.Contains(string(data), `"score": 71`) {
		t.Errorf("unexpected record content: %s", data)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "readiness"))
	if err != nil {
		t.Fatalf("reading endpoint dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileRecordStore_SkipsCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	metrics := observability.NewMetrics()
	s, err := NewFileRecordStore(dir, StoreOptions{Metrics: metrics})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	mustUpsert(t, s, models.EndpointSleep, rec("2026-01-01", map[string]float64{"score": 80}))
	mustUpsert(t, s, models.EndpointSleep, rec("2026-01-03", map[string]float64{"score": 82}))

	corrupt := filepath.Join(dir, "sleep", "2026-01-02.json")
	if err := os.WriteFile(corrupt, []byte(`{"day": "2026-01-02", "fields": {`), 0o644); err != nil {
		t.Fatalf("writing corrupt file: %v", err)
	}

	set, err := s.ReadRange(context.Background(), models.EndpointSleep,
		models.MustParseDay("2026-01-01"), models.MustParseDay("2026-01-31"))
	if err != nil {
		t.Fatalf("expected corrupt record to be skipped, got error %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("expected 2 readable records, got %d", len(set))
	}

	samples, err := metrics.Samples()
	if err != nil {
		t.Fatalf("gathering samples: %v", err)
	}
	found := false
	for _, sm := range samples {
		if sm.Name == `oura_corrupt_records_total{endpoint="sleep"}` && sm.Value == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected corrupt record counter to be 1, samples: %v", samples)
	}
}

func TestFileRecordStore_MisplacedRecordIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileRecordStore(dir, StoreOptions{})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	mustUpsert(t, s, models.EndpointSleep, rec("2026-01-01", map[string]float64{"score": 80}))

	// A record copied under the wrong day must not be served as that day.
	src := filepath.Join(dir, "sleep", "2026-01-01.json")
	data, _ := os.ReadFile(src)
	if err := os.WriteFile(filepath.Join(dir, "sleep", "2026-01-05.json"), data, 0o644); err != nil {
		t.Fatalf("writing misplaced file: %v", err)
	}

	set, err := s.ReadRange(context.Background(), models.EndpointSleep,
		models.MustParseDay("2026-01-01"), models.MustParseDay("2026-01-31"))
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if len(set) != 1 || set[0].Day.String() != "2026-01-01" {
		t.Errorf("expected only the original record, got %v", set)
	}
}

func TestFileRecordStore_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileRecordStore(dir, StoreOptions{})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	mustUpsert(t, s, models.EndpointHRV, rec("2026-01-01", map[string]float64{"average_hrv": 42}))
	for _, name := range []string{".tmp-123", "notes.txt", "latest.json"} {
		if err := os.WriteFile(filepath.Join(dir, "hrv", name), []byte("x"), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}

	stats, err := s.Stats(context.Background(), models.EndpointHRV)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Count != 1 {
		t.Errorf("expected foreign files to be ignored, count %d", stats.Count)
	}
}

func TestFileRecordStore_LockContention(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileRecordStore(dir, StoreOptions{
		Lock: LockOptions{MaxTries: 3, MaxElapsed: 200 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}

	// Hold the writer lock from a second open file description.
	unlock, err := lockFile(context.Background(), filepath.Join(dir, ".lock"), true, DefaultLockOptions())
	if err != nil {
		t.Fatalf("acquiring lock: %v", err)
	}

	err = s.Upsert(context.Background(), models.EndpointSleep, rec("2026-01-01", map[string]float64{"score": 80}))
	if !errors.Is(err, models.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict while lock held, got %v", err)
	}

	if err := unlock(); err != nil {
		t.Fatalf("releasing lock: %v", err)
	}
	if err := s.Upsert(context.Background(), models.EndpointSleep, rec("2026-01-01", map[string]float64{"score": 80})); err != nil {
		t.Fatalf("expected upsert to succeed after release, got %v", err)
	}
}

func TestFileRecordStore_DeleteCountsMetric(t *testing.T) {
	dir := t.TempDir()
	metrics := observability.NewMetrics()
	s, err := NewFileRecordStore(dir, StoreOptions{Metrics: metrics})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	for _, d := range []string{"2026-01-01", "2026-01-02"} {
		mustUpsert(t, s, models.EndpointActivity, rec(d, map[string]float64{"steps": 5000}))
	}
	if _, err := s.DeleteRange(context.Background(), []models.Endpoint{models.EndpointActivity}, AnyDay, nil); err != nil {
		t.Fatalf("deleting: %v", err)
	}

	expected := `
# HELP oura_records_deleted_total Records removed by cleanup or clear.
# TYPE oura_records_deleted_total counter
oura_records_deleted_total{endpoint="activity"} 2
`
	if err := testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "oura_records_deleted_total"); err != nil {
		t.Errorf("unexpected deletion counter: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".trash-") {
			t.Errorf("staging dir left behind: %s", e.Name())
		}
	}
}

func TestFileRecordStore_DeleteRollsBackEarlierEndpoints(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileRecordStore(dir, StoreOptions{})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	for _, e := range models.AllEndpoints() {
		mustUpsert(t, s, e, rec("2026-01-01", map[string]float64{"score": 1}))
		mustUpsert(t, s, e, rec("2026-01-02", map[string]float64{"score": 2}))
	}

	// Fail the first move out of the activity directory, after sleep and
	// readiness are already staged.
	errDisk := errors.New("input/output error")
	rename = func(from, to string) error {
		if strings.Contains(from, string(filepath.Separator)+"activity"+string(filepath.Separator)) {
			return errDisk
		}
		return os.Rename(from, to)
	}
	t.Cleanup(func() { rename = os.Rename })

	committed := false
	_, err = s.DeleteRange(context.Background(), nil, AnyDay, func() error {
		committed = true
		return nil
	})
	if !errors.Is(err, errDisk) {
		t.Fatalf("expected the rename error, got %v", err)
	}
	if committed {
		t.Error("beforeCommit ran although staging failed")
	}
	for _, e := range models.AllEndpoints() {
		st, err := s.Stats(context.Background(), e)
		if err != nil {
			t.Fatalf("stats %s: %v", e, err)
		}
		if st.Count != 2 {
			t.Errorf("%s: expected 2 records after rollback, got %d", e, st.Count)
		}
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".trash-") {
			t.Errorf("staging dir left behind after rollback: %s", e.Name())
		}
	}
}

// Feature: record store, Property: range reads return exactly the stored
// days within [start, end], ascending, without duplicates.
func TestProperty_ReadRangeMatchesUpserts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := NewMemoryRecordStore()
		ctx := context.Background()
		base := models.MustParseDay("2026-01-01")

		offsets := rapid.SliceOfN(rapid.IntRange(0, 60), 0, 40).Draw(rt, "offsets")
		stored := make(map[string]bool)
		for _, off := range offsets {
			d := base.AddDays(off)
			if err := s.Upsert(ctx, models.EndpointSleep, models.MetricRecord{Day: d, Fields: map[string]float64{"score": float64(off)}}); err != nil {
				rt.Fatalf("upsert: %v", err)
			}
			stored[d.String()] = true
		}

		lo := rapid.IntRange(0, 60).Draw(rt, "lo")
		hi := rapid.IntRange(lo, 60).Draw(rt, "hi")
		start, end := base.AddDays(lo), base.AddDays(hi)

		set, err := s.ReadRange(ctx, models.EndpointSleep, start, end)
		if err != nil {
			rt.Fatalf("read: %v", err)
		}

		want := 0
		for off := lo; off <= hi; off++ {
			if stored[base.AddDays(off).String()] {
				want++
			}
		}
		if len(set) != want {
			rt.Fatalf("expected %d records, got %d", want, len(set))
		}
		for i := range set {
			if !set[i].Day.Within(start, end) {
				rt.Fatalf("record %s outside [%s, %s]", set[i].Day, start, end)
			}
			if i > 0 && !set[i-1].Day.Before(set[i].Day) {
				rt.Fatalf("records not strictly ascending at %d", i)
			}
		}
	})
}
