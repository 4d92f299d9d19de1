package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dgraph-io/badger/v4"

	"github.com/valter-silva-au/oura-analytics/internal/observability"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// BadgerConfig selects where a badger-backed store lives.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM; used by tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// badgerRecordStore keeps records under keys rec/<endpoint>/<YYYY-MM-DD>.
// Every mutation is one transaction, so deletes are all-or-nothing and
// snapshots come from a single read transaction.
type badgerRecordStore struct {
	db      *badger.DB
	logger  *slog.Logger
	metrics *observability.Metrics
	lock    LockOptions
}

// NewBadgerRecordStore opens (or creates) a badger database as a RecordStore.
func NewBadgerRecordStore(cfg BadgerConfig, opts StoreOptions) (RecordStore, error) {
	opts = opts.withDefaults()

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required for a persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("creating badger directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: opts.Logger})

	db, err := openBadger(bopts, opts.Lock)
	if err != nil {
		return nil, fmt.Errorf("opening badger store: %w", err)
	}
	return &badgerRecordStore{
		db:      db,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		lock:    opts.Lock,
	}, nil
}

// openBadger opens the database, retrying while another process holds
// badger's directory lock. Badger reports that condition only as text.
func openBadger(bopts badger.Options, lock LockOptions) (*badger.DB, error) {
	locked := func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "Cannot acquire directory lock")
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond

	db, err := backoff.Retry(context.Background(), func() (*badger.DB, error) {
		db, err := badger.Open(bopts)
		if err == nil || locked(err) {
			return db, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(lock.MaxTries),
		backoff.WithMaxElapsedTime(lock.MaxElapsed),
	)
	if locked(err) {
		return nil, fmt.Errorf("%w: %v", models.ErrConcurrencyConflict, err)
	}
	return db, err
}

func endpointPrefix(endpoint models.Endpoint) []byte {
	return []byte("rec/" + string(endpoint) + "/")
}

func recordKey(endpoint models.Endpoint, day models.Day) []byte {
	return append(endpointPrefix(endpoint), day.String()...)
}

func dayFromKey(endpoint models.Endpoint, key []byte) (models.Day, error) {
	return models.ParseDay(string(bytes.TrimPrefix(key, endpointPrefix(endpoint))))
}

// update runs fn in a read-write transaction, retrying badger conflicts with
// the same budget the file store applies to lock contention.
func (s *badgerRecordStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.db.Update(fn)
		if err == nil || errors.Is(err, badger.ErrConflict) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.lock.MaxTries),
		backoff.WithMaxElapsedTime(s.lock.MaxElapsed),
	)
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %v", models.ErrConcurrencyConflict, err)
	}
	return err
}

func (s *badgerRecordStore) Upsert(ctx context.Context, endpoint models.Endpoint, record models.MetricRecord) error {
	if err := validateUpsert(endpoint, &record); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("upserting %s/%s: marshaling: %w", endpoint, record.Day, err)
	}
	err = s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(recordKey(endpoint, record.Day), data)
	})
	if err != nil {
		return fmt.Errorf("upserting %s/%s: %w", endpoint, record.Day, err)
	}
	s.metrics.RecordUpserted(endpoint)
	return nil
}

// scan visits every key of an endpoint in ascending day order. Keys that do
// not carry a day are ignored.
func (s *badgerRecordStore) scan(txn *badger.Txn, endpoint models.Endpoint, values bool, visit func(day models.Day, item *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = values
	opts.Prefix = endpointPrefix(endpoint)

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		day, err := dayFromKey(endpoint, item.Key())
		if err != nil {
			continue
		}
		if err := visit(day, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *badgerRecordStore) decode(endpoint models.Endpoint, day models.Day, item *badger.Item) (models.MetricRecord, bool, error) {
	var record models.MetricRecord
	var decodeErr error
	err := item.Value(func(val []byte) error {
		decodeErr = json.Unmarshal(val, &record)
		return nil
	})
	if err != nil {
		return record, false, err
	}
	if decodeErr == nil && (!record.Day.Equal(day) || record.Endpoint != endpoint) {
		decodeErr = fmt.Errorf("content does not match %s/%s", endpoint, day)
	}
	if decodeErr != nil {
		s.logger.Warn("skipping corrupt record",
			"endpoint", endpoint, "day", day.String(), "error", fmt.Errorf("%w: %v", models.ErrCorruptRecord, decodeErr))
		s.metrics.CorruptRecord(endpoint)
		return record, false, nil
	}
	return record, true, nil
}

func (s *badgerRecordStore) readSet(txn *badger.Txn, endpoint models.Endpoint, pred DayPredicate) (models.RecordSet, error) {
	set := models.RecordSet{}
	err := s.scan(txn, endpoint, true, func(day models.Day, item *badger.Item) error {
		if !pred(day) {
			return nil
		}
		record, ok, err := s.decode(endpoint, day, item)
		if err != nil {
			return err
		}
		if ok {
			set = append(set, record)
		}
		return nil
	})
	return set, err
}

func (s *badgerRecordStore) ReadRange(ctx context.Context, endpoint models.Endpoint, start, end models.Day) (models.RecordSet, error) {
	var set models.RecordSet
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		set, err = s.readSet(txn, endpoint, func(d models.Day) bool { return d.Within(start, end) })
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", endpoint, err)
	}
	return set, nil
}

func (s *badgerRecordStore) ListEndpoints(ctx context.Context) ([]models.Endpoint, error) {
	var out []models.Endpoint
	for _, e := range models.AllEndpoints() {
		n, err := s.CountRange(ctx, e, AnyDay)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *badgerRecordStore) Stats(ctx context.Context, endpoint models.Endpoint) (models.StoreStats, error) {
	stats := models.StoreStats{Endpoint: endpoint}
	err := s.db.View(func(txn *badger.Txn) error {
		return s.scan(txn, endpoint, false, func(day models.Day, item *badger.Item) error {
			if stats.Count == 0 {
				stats.MinDay = day
			}
			stats.Count++
			stats.MaxDay = day
			stats.TotalBytes += item.ValueSize()
			return nil
		})
	})
	if err != nil {
		return stats, fmt.Errorf("stats for %s: %w", endpoint, err)
	}
	return stats, nil
}

func (s *badgerRecordStore) CountRange(ctx context.Context, endpoint models.Endpoint, pred DayPredicate) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		return s.scan(txn, endpoint, false, func(day models.Day, _ *badger.Item) error {
			if pred(day) {
				n++
			}
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", endpoint, err)
	}
	return n, nil
}

// DeleteRange deletes the matches of every endpoint in one transaction.
// beforeCommit runs inside it, so its error discards the whole delete.
func (s *badgerRecordStore) DeleteRange(ctx context.Context, endpoints []models.Endpoint, pred DayPredicate, beforeCommit func() error) (map[models.Endpoint]int, error) {
	eps := snapshotEndpoints(endpoints)
	var deleted map[models.Endpoint]int
	err := s.update(ctx, func(txn *badger.Txn) error {
		deleted = make(map[models.Endpoint]int, len(eps))
		for _, e := range eps {
			var keys [][]byte
			err := s.scan(txn, e, false, func(day models.Day, item *badger.Item) error {
				if pred(day) {
					keys = append(keys, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return fmt.Errorf("deleting %s: %w", e, err)
				}
			}
			deleted[e] = len(keys)
		}
		if beforeCommit != nil {
			return beforeCommit()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("deleting records: %w", err)
	}
	for e, n := range deleted {
		s.metrics.RecordsDeleted(e, n)
	}
	return deleted, nil
}

func (s *badgerRecordStore) Snapshot(ctx context.Context, endpoints []models.Endpoint) (map[models.Endpoint]models.RecordSet, error) {
	out := make(map[models.Endpoint]models.RecordSet)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, e := range snapshotEndpoints(endpoints) {
			set, err := s.readSet(txn, e, AnyDay)
			if err != nil {
				return err
			}
			out[e] = set
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshotting cache: %w", err)
	}
	return out, nil
}

func (s *badgerRecordStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing badger store: %w", err)
	}
	return nil
}
