package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

func TestBadgerRecordStore_PersistsAcrossReopen(t *testing.T) {
	cfg := BadgerConfig{Path: filepath.Join(t.TempDir(), "badger")}
	s, err := NewBadgerRecordStore(cfg, StoreOptions{})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	mustUpsert(t, s, models.EndpointHRV, rec("2026-01-10", map[string]float64{"average_hrv": 42}))
	if err := s.Close(); err != nil {
		t.Fatalf("closing store: %v", err)
	}

	s, err = NewBadgerRecordStore(cfg, StoreOptions{})
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer s.Close()
	day := models.MustParseDay("2026-01-10")
	set, err := s.ReadRange(context.Background(), models.EndpointHRV, day, day)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if len(set) != 1 || set[0].Fields["average_hrv"] != 42 {
		t.Errorf("record not persisted: %+v", set)
	}
}

func TestBadgerRecordStore_HeldDirectoryIsAConflict(t *testing.T) {
	cfg := BadgerConfig{Path: filepath.Join(t.TempDir(), "badger")}
	holder, err := NewBadgerRecordStore(cfg, StoreOptions{})
	if err != nil {
		t.Fatalf("opening first store: %v", err)
	}
	defer holder.Close()

	start := time.Now()
	_, err = NewBadgerRecordStore(cfg, StoreOptions{Lock: LockOptions{MaxTries: 3, MaxElapsed: time.Second}})
	if !errors.Is(err, models.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Errorf("gave up after %v without retrying", time.Since(start))
	}
}

func TestBadgerRecordStore_OpensOnceHolderCloses(t *testing.T) {
	cfg := BadgerConfig{Path: filepath.Join(t.TempDir(), "badger")}
	holder, err := NewBadgerRecordStore(cfg, StoreOptions{})
	if err != nil {
		t.Fatalf("opening first store: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = holder.Close()
	}()

	s, err := NewBadgerRecordStore(cfg, StoreOptions{Lock: LockOptions{MaxTries: 50, MaxElapsed: 5 * time.Second}})
	if err != nil {
		t.Fatalf("expected the open to succeed after the holder closed, got %v", err)
	}
	_ = s.Close()
}
