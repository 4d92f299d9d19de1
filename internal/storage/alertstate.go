package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// StateMatch selects alert-state entries for clearing or counting.
type StateMatch func(models.AlertState) bool

// MatchAll selects every entry.
func MatchAll(models.AlertState) bool { return true }

// MatchMetric selects every entry of one metric key.
func MatchMetric(metric string) StateMatch {
	return func(s models.AlertState) bool { return s.Metric == metric }
}

// MatchMetricDay selects the single (metric, day) entry.
func MatchMetricDay(metric string, day models.Day) StateMatch {
	return func(s models.AlertState) bool { return s.Metric == metric && s.Day.Equal(day) }
}

// MatchBefore selects entries older than cutoff whose metric key starts
// with prefix. An empty prefix matches all metrics.
func MatchBefore(cutoff models.Day, prefix string) StateMatch {
	return func(s models.AlertState) bool {
		return s.Day.Before(cutoff) && strings.HasPrefix(s.Metric, prefix)
	}
}

// AlertStateStore persists which (metric, day) pairs have already fired.
// TryFire is the only way to set an entry and it is atomic with respect to
// concurrent callers, so a pair fires at most once until it is cleared.
type AlertStateStore interface {
	// Get returns the entry for (metric, day), if any.
	Get(ctx context.Context, metric string, day models.Day) (models.AlertState, bool, error)
	// TryFire marks (metric, day) fired at the given time. It returns false
	// without writing if the pair had already fired.
	TryFire(ctx context.Context, metric string, day models.Day, at time.Time) (bool, error)
	// Clear removes matching entries and returns how many were removed.
	Clear(ctx context.Context, match StateMatch) (int, error)
	// Count is the dry-run form of Clear.
	Count(ctx context.Context, match StateMatch) (int, error)
	// List returns every entry ordered by metric then day.
	List(ctx context.Context) ([]models.AlertState, error)
}

type stateKey struct {
	metric string
	day    string
}

func keyOf(s models.AlertState) stateKey {
	return stateKey{metric: s.Metric, day: s.Day.String()}
}

func sortStates(states []models.AlertState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].Metric != states[j].Metric {
			return states[i].Metric < states[j].Metric
		}
		return states[i].Day.Before(states[j].Day)
	})
}

// alertStateFile is the on-disk form of the alert state.
type alertStateFile struct {
	Version string              `yaml:"version"`
	Entries []models.AlertState `yaml:"entries"`
}

// fileAlertStateStore keeps alert state in a single YAML file. Every
// read-modify-write runs under an exclusive flock on a sibling lock file and
// the file is replaced by rename.
type fileAlertStateStore struct {
	path string
	lock LockOptions
}

// NewFileAlertStateStore creates an AlertStateStore backed by the YAML file
// at path.
func NewFileAlertStateStore(path string, lock LockOptions) (AlertStateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating alert state directory: %w", err)
	}
	if lock.MaxTries == 0 {
		lock = DefaultLockOptions()
	}
	return &fileAlertStateStore{path: path, lock: lock}, nil
}

func (s *fileAlertStateStore) lockPath() string {
	return s.path + ".lock"
}

// load reads the state file. A missing file is an empty state; an
// unreadable one is an error so fired entries are never silently dropped.
func (s *fileAlertStateStore) load() (map[stateKey]models.AlertState, error) {
	entries := make(map[stateKey]models.AlertState)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entries, nil
		}
		return nil, fmt.Errorf("loading alert state: %w", err)
	}

	var file alertStateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("loading alert state: parsing YAML: %w: %v", models.ErrCorruptRecord, err)
	}
	for _, e := range file.Entries {
		entries[keyOf(e)] = e
	}
	return entries, nil
}

func (s *fileAlertStateStore) save(entries map[stateKey]models.AlertState) error {
	file := alertStateFile{Version: "1.0", Entries: make([]models.AlertState, 0, len(entries))}
	for _, e := range entries {
		file.Entries = append(file.Entries, e)
	}
	sortStates(file.Entries)

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("saving alert state: marshaling YAML: %w", err)
	}
	if err := writeFileAtomic(filepath.Dir(s.path), s.path, data); err != nil {
		return fmt.Errorf("saving alert state: %w", err)
	}
	return nil
}

func (s *fileAlertStateStore) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	unlock, err := lockFile(ctx, s.lockPath(), exclusive, s.lock)
	if err != nil {
		return fmt.Errorf("alert state: %w", err)
	}
	defer unlock()
	return fn()
}

func (s *fileAlertStateStore) Get(ctx context.Context, metric string, day models.Day) (models.AlertState, bool, error) {
	var (
		state models.AlertState
		found bool
	)
	err := s.withLock(ctx, false, func() error {
		entries, err := s.load()
		if err != nil {
			return err
		}
		state, found = entries[stateKey{metric: metric, day: day.String()}]
		return nil
	})
	return state, found, err
}

func (s *fileAlertStateStore) TryFire(ctx context.Context, metric string, day models.Day, at time.Time) (bool, error) {
	fired := false
	err := s.withLock(ctx, true, func() error {
		entries, err := s.load()
		if err != nil {
			return err
		}
		key := stateKey{metric: metric, day: day.String()}
		if existing, ok := entries[key]; ok && existing.Fired {
			return nil
		}
		entries[key] = models.AlertState{Metric: metric, Day: day, Fired: true, FiredAt: at.UTC()}
		if err := s.save(entries); err != nil {
			return err
		}
		fired = true
		return nil
	})
	return fired, err
}

func (s *fileAlertStateStore) Clear(ctx context.Context, match StateMatch) (int, error) {
	n := 0
	err := s.withLock(ctx, true, func() error {
		entries, err := s.load()
		if err != nil {
			return err
		}
		for k, e := range entries {
			if match(e) {
				delete(entries, k)
				n++
			}
		}
		if n == 0 {
			return nil
		}
		return s.save(entries)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *fileAlertStateStore) Count(ctx context.Context, match StateMatch) (int, error) {
	n := 0
	err := s.withLock(ctx, false, func() error {
		entries, err := s.load()
		if err != nil {
			return err
		}
		for _, e := range entries {
			if match(e) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *fileAlertStateStore) List(ctx context.Context) ([]models.AlertState, error) {
	var out []models.AlertState
	err := s.withLock(ctx, false, func() error {
		entries, err := s.load()
		if err != nil {
			return err
		}
		for _, e := range entries {
			out = append(out, e)
		}
		return nil
	})
	sortStates(out)
	return out, err
}

// memoryAlertStateStore is the in-process AlertStateStore used by tests.
type memoryAlertStateStore struct {
	mu      sync.Mutex
	entries map[stateKey]models.AlertState
}

// NewMemoryAlertStateStore creates an empty in-memory AlertStateStore.
func NewMemoryAlertStateStore() AlertStateStore {
	return &memoryAlertStateStore{entries: make(map[stateKey]models.AlertState)}
}

func (s *memoryAlertStateStore) Get(ctx context.Context, metric string, day models.Day) (models.AlertState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.entries[stateKey{metric: metric, day: day.String()}]
	return state, ok, nil
}

func (s *memoryAlertStateStore) TryFire(ctx context.Context, metric string, day models.Day, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stateKey{metric: metric, day: day.String()}
	if existing, ok := s.entries[key]; ok && existing.Fired {
		return false, nil
	}
	s.entries[key] = models.AlertState{Metric: metric, Day: day, Fired: true, FiredAt: at.UTC()}
	return true, nil
}

func (s *memoryAlertStateStore) Clear(ctx context.Context, match StateMatch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if match(e) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *memoryAlertStateStore) Count(ctx context.Context, match StateMatch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if match(e) {
			n++
		}
	}
	return n, nil
}

func (s *memoryAlertStateStore) List(ctx context.Context) ([]models.AlertState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AlertState, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortStates(out)
	return out, nil
}
