package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// StoreOptions carries the ambient dependencies shared by store backends.
type StoreOptions struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Lock    LockOptions
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Lock.MaxTries == 0 {
		o.Lock = DefaultLockOptions()
	}
	return o
}

// fileRecordStore keeps one JSON file per (endpoint, day) under
// <dir>/<endpoint>/<YYYY-MM-DD>.json. Writers hold an exclusive flock on
// <dir>/.lock; files are replaced by rename so readers never see a partial
// record.
type fileRecordStore struct {
	dir     string
	logger  *slog.Logger
	metrics *observability.Metrics
	lock    LockOptions
}

// NewFileRecordStore creates a RecordStore rooted at dir, creating it if
// necessary.
func NewFileRecordStore(dir string, opts StoreOptions) (RecordStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	opts = opts.withDefaults()
	return &fileRecordStore{
		dir:     dir,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		lock:    opts.Lock,
	}, nil
}

func (s *fileRecordStore) lockPath() string {
	return filepath.Join(s.dir, ".lock")
}

func (s *fileRecordStore) endpointDir(endpoint models.Endpoint) string {
	return filepath.Join(s.dir, string(endpoint))
}

func (s *fileRecordStore) recordPath(endpoint models.Endpoint, day models.Day) string {
	return filepath.Join(s.endpointDir(endpoint), day.String()+".json")
}

// Upsert writes the record to a temp file in the endpoint directory and
// renames it over the previous version.
func (s *fileRecordStore) Upsert(ctx context.Context, endpoint models.Endpoint, record models.MetricRecord) error {
	if err := validateUpsert(endpoint, &record); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("upserting %s/%s: marshaling: %w", endpoint, record.Day, err)
	}

	unlock, err := lockFile(ctx, s.lockPath(), true, s.lock)
	if err != nil {
		return fmt.Errorf("upserting %s/%s: %w", endpoint, record.Day, err)
	}
	defer unlock()

	dir := s.endpointDir(endpoint)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("upserting %s/%s: creating directory: %w", endpoint, record.Day, err)
	}
	if err := writeFileAtomic(dir, s.recordPath(endpoint, record.Day), data); err != nil {
		return fmt.Errorf("upserting %s/%s: %w", endpoint, record.Day, err)
	}

	s.metrics.RecordUpserted(endpoint)
	return nil
}

// writeFileAtomic writes data to a temp file in dir, syncs it and renames
// it to path.
func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// dayFile is a record file found by listing an endpoint directory.
type dayFile struct {
	day  models.Day
	path string
	size int64
}

// listDays returns the record files of an endpoint in ascending day order.
// Temp files and names that are not a day are ignored.
func (s *fileRecordStore) listDays(endpoint models.Endpoint) ([]dayFile, error) {
	entries, err := os.ReadDir(s.endpointDir(endpoint))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", endpoint, err)
	}

	var files []dayFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		day, err := models.ParseDay(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		var size int64
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		files = append(files, dayFile{
			day:  day,
			path: filepath.Join(s.endpointDir(endpoint), name),
			size: size,
		})
	}
	return files, nil
}

// readRecord decodes one record file. A decode failure, or a file whose
// content disagrees with its name, is reported as ErrCorruptRecord.
func (s *fileRecordStore) readRecord(endpoint models.Endpoint, f dayFile) (models.MetricRecord, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return models.MetricRecord{}, err
	}
	var record models.MetricRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return models.MetricRecord{}, fmt.Errorf("%w: %v", models.ErrCorruptRecord, err)
	}
	if !record.Day.Equal(f.day) || record.Endpoint != endpoint {
		return models.MetricRecord{}, fmt.Errorf("%w: content does not match %s/%s", models.ErrCorruptRecord, endpoint, f.day)
	}
	return record, nil
}

func (s *fileRecordStore) readFiles(ctx context.Context, endpoint models.Endpoint, files []dayFile) (models.RecordSet, error) {
	set := make(models.RecordSet, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := s.readRecord(endpoint, f)
		switch {
		case err == nil:
			set = append(set, record)
		case errors.Is(err, fs.ErrNotExist):
			// Deleted between listing and reading.
		case errors.Is(err, models.ErrCorruptRecord):
			s.logger.Warn("skipping corrupt record",
				"endpoint", endpoint, "day", f.day.String(), "path", f.path, "error", err)
			s.metrics.CorruptRecord(endpoint)
		default:
			return nil, fmt.Errorf("reading %s/%s: %w", endpoint, f.day, err)
		}
	}
	return set, nil
}

func (s *fileRecordStore) ReadRange(ctx context.Context, endpoint models.Endpoint, start, end models.Day) (models.RecordSet, error) {
	files, err := s.listDays(endpoint)
	if err != nil {
		return nil, err
	}
	var inRange []dayFile
	for _, f := range files {
		if f.day.Within(start, end) {
			inRange = append(inRange, f)
		}
	}
	return s.readFiles(ctx, endpoint, inRange)
}

func (s *fileRecordStore) ListEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	var out []models.Endpoint
	for _, e := range models.AllEndpoints() {
		files, err := s.listDays(e)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fileRecordStore) Stats(ctx context.Context, endpoint models.Endpoint) (models.StoreStats, error) {
	stats := models.StoreStats{Endpoint: endpoint}
	files, err := s.listDays(endpoint)
	if err != nil {
		return stats, err
	}
	for _, f := range files {
		stats.Count++
		stats.TotalBytes += f.size
	}
	if len(files) > 0 {
		stats.MinDay = files[0].day
		stats.MaxDay = files[len(files)-1].day
	}
	return stats, nil
}

func (s *fileRecordStore) CountRange(ctx context.Context, endpoint models.Endpoint, pred DayPredicate) (int, error) {
	files, err := s.listDays(endpoint)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, f := range files {
		if pred(f.day) {
			n++
		}
	}
	return n, nil
}

// rename is replaced in tests to simulate a failing filesystem.
var rename = os.Rename

// stagedFile is a record moved into a trash directory, kept so the move can
// be undone.
type stagedFile struct {
	endpoint models.Endpoint
	day      models.Day
	from, to string
}

// DeleteRange moves every match of every endpoint into one staging
// directory under a single exclusive lock. Only when all moves and
// beforeCommit succeeded is the staging directory removed; any failure
// moves the staged files back.
func (s *fileRecordStore) DeleteRange(ctx context.Context, endpoints []models.Endpoint, pred DayPredicate, beforeCommit func() error) (map[models.Endpoint]int, error) {
	unlock, err := lockFile(ctx, s.lockPath(), true, s.lock)
	if err != nil {
		return nil, fmt.Errorf("deleting records: %w", err)
	}
	defer unlock()

	eps := snapshotEndpoints(endpoints)
	victims := make(map[models.Endpoint][]dayFile, len(eps))
	total := 0
	for _, e := range eps {
		files, err := s.listDays(e)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if pred(f.day) {
				victims[e] = append(victims[e], f)
				total++
			}
		}
	}

	var staging string
	var staged []stagedFile
	if total > 0 {
		staging = filepath.Join(s.dir, ".trash-"+uuid.NewString())
		if err := os.Mkdir(staging, 0o755); err != nil {
			return nil, fmt.Errorf("deleting records: creating staging dir: %w", err)
		}
		for _, e := range eps {
			if len(victims[e]) == 0 {
				continue
			}
			dst := filepath.Join(staging, string(e))
			if err := os.Mkdir(dst, 0o755); err != nil {
				s.restore(staging, staged)
				return nil, fmt.Errorf("deleting %s records: creating staging dir: %w", e, err)
			}
			for _, f := range victims[e] {
				sf := stagedFile{endpoint: e, day: f.day, from: f.path, to: filepath.Join(dst, filepath.Base(f.path))}
				if err := rename(sf.from, sf.to); err != nil {
					s.restore(staging, staged)
					return nil, fmt.Errorf("deleting %s/%s: %w", e, f.day, err)
				}
				staged = append(staged, sf)
			}
		}
	}

	if beforeCommit != nil {
		if err := beforeCommit(); err != nil {
			s.restore(staging, staged)
			return nil, err
		}
	}

	if staging != "" {
		if err := os.RemoveAll(staging); err != nil {
			s.logger.Warn("removing staging dir failed", "path", staging, "error", err)
		}
	}

	deleted := make(map[models.Endpoint]int, len(eps))
	for _, e := range eps {
		deleted[e] = len(victims[e])
		s.metrics.RecordsDeleted(e, len(victims[e]))
	}
	return deleted, nil
}

// restore moves staged files back in reverse order. The staging directory
// is only removed when every file made it back, so a record is never lost
// to a partial restore.
func (s *fileRecordStore) restore(staging string, staged []stagedFile) {
	if staging == "" {
		return
	}
	clean := true
	for i := len(staged) - 1; i >= 0; i-- {
		sf := staged[i]
		if err := rename(sf.to, sf.from); err != nil {
			clean = false
			s.logger.Error("restoring staged record failed",
				"endpoint", sf.endpoint, "day", sf.day.String(), "staged", sf.to, "error", err)
		}
	}
	if !clean {
		return
	}
	if err := os.RemoveAll(staging); err != nil {
		s.logger.Warn("removing staging dir failed", "path", staging, "error", err)
	}
}

// Snapshot holds a shared lock while reading so no upsert or delete can
// interleave with the copy.
func (s *fileRecordStore) Snapshot(ctx context.Context, endpoints []models.Endpoint) (map[models.Endpoint]models.RecordSet, error) {
	unlock, err := lockFile(ctx, s.lockPath(), false, s.lock)
	if err != nil {
		return nil, fmt.Errorf("snapshotting cache: %w", err)
	}
	defer unlock()

	out := make(map[models.Endpoint]models.RecordSet)
	for _, e := range snapshotEndpoints(endpoints) {
		files, err := s.listDays(e)
		if err != nil {
			return nil, err
		}
		set, err := s.readFiles(ctx, e, files)
		if err != nil {
			return nil, err
		}
		out[e] = set
	}
	return out, nil
}

func (s *fileRecordStore) Close() error { return nil }
