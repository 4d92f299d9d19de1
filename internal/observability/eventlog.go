package observability

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

// Event types written by oura itself. Users may log notes under any type.
const (
	EventSyncCompleted    = "sync.completed"
	EventAlertFired       = "alert.fired"
	EventNotifyFailed     = "notify.failed"
	EventRetentionCleanup = "retention.cleanup"
	EventNote             = "note"
)

// Event is one entry of the event log: a sync run, a fired alert, a
// retention cleanup, or a note the user logged against a day.
type Event struct {
	Time    time.Time      `json:"time"`
	Day     models.Day     `json:"day,omitzero"`
	Level   string         `json:"level"` // INFO, WARN, ERROR
	Type    string         `json:"type"`
	Message string         `json:"msg"`
	Data    map[string]any `json:"data,omitempty"`
}

// EventFilter selects events; zero fields match everything. Since and
// Until bound the write time, From and To the day the event belongs to.
// All bounds are inclusive.
type EventFilter struct {
	Since *time.Time
	Until *time.Time
	From  models.Day
	To    models.Day
	Type  string
	Level string
}

func (f EventFilter) match(ev Event) bool {
	switch {
	case f.Since != nil && ev.Time.Before(*f.Since):
		return false
	case f.Until != nil && ev.Time.After(*f.Until):
		return false
	case !f.From.IsZero() && ev.Day.Before(f.From):
		return false
	case !f.To.IsZero() && ev.Day.After(f.To):
		return false
	case f.Type != "" && ev.Type != f.Type:
		return false
	case f.Level != "" && ev.Level != f.Level:
		return false
	}
	return true
}

// EventLog appends events and reads them back in write order.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	Close() error
}

// ErrEventTypeRequired is returned when writing an event without a type.
var ErrEventTypeRequired = errors.New("event type is required")

// journal is an EventLog backed by an append-only JSONL file. Every line is
// written with a single call so concurrent oura processes do not interleave
// partial entries.
type journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewJSONLEventLog opens (or creates) the JSONL event log at path.
func NewJSONLEventLog(path string) (EventLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &journal{path: path, f: f}, nil
}

// Write appends one event. A zero Time is stamped with the current UTC time,
// a zero Day with the date of Time, and an empty Level with INFO.
func (j *journal) Write(ev Event) error {
	if ev.Type == "" {
		return ErrEventTypeRequired
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.Day.IsZero() {
		ev.Day = models.DayOf(ev.Time)
	}
	if ev.Level == "" {
		ev.Level = "INFO"
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("appending %s event: %w", ev.Type, err)
	}
	return nil
}

// Read returns the events matching filter. A missing file reads as empty.
// Lines that do not decode, such as a write cut short by a crash, are
// skipped.
func (j *journal) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer f.Close()

	var events []Event
	err = scanEvents(f, func(ev Event) {
		if filter.match(ev) {
			events = append(events, ev)
		}
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func scanEvents(r io.Reader, fn func(Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if json.Unmarshal(line, &ev) != nil {
			continue
		}
		fn(ev)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scanning event log: %w", err)
	}
	return nil
}

// Close closes the log file.
func (j *journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.f.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

// CountByType tallies the events matching filter by type. Since the log
// outlives any single process, these are lifetime totals.
func CountByType(log EventLog, filter EventFilter) (map[string]int, error) {
	events, err := log.Read(filter)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, ev := range events {
		counts[ev.Type]++
	}
	return counts, nil
}
