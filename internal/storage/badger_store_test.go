package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/1broseidon/beacon/pkg/models"
)

func TestResultKeyOrdersByTime(t *testing.T) {
	early := newResult(3, time.Unix(0, 999), models.StatusUp)
	late := newResult(3, time.Unix(0, 1000), models.StatusUp)

	ek, lk := string(resultKey(early)), string(resultKey(late))
	if ek >= lk {
		t.Fatalf("expected %q to sort before %q", ek, lk)
	}
	if !strings.HasPrefix(ek, resultPrefix(3)) {
		t.Fatalf("expected key %q to carry the monitor prefix", ek)
	}

	ts, ok := timestampFromKey([]byte(lk), resultPrefix(3))
	if !ok || ts != 1000 {
		t.Fatalf("expected timestamp 1000 from key, got %d (%v)", ts, ok)
	}
}

func TestBadgerStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	logger := testLogger(t)

	store, err := NewBadgerStore(BadgerOptions{Path: dir}, logger)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	first := newMonitor("persisted", 1, true)
	if err := store.CreateMonitor(ctx, first); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}
	checked := time.Now().UTC()
	if err := store.UpdateMonitorStatus(ctx, first.ID, false, checked); err != nil {
		t.Fatalf("UpdateMonitorStatus: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	reopened, err := NewBadgerStore(BadgerOptions{Path: dir}, logger)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	enabled, err := reopened.LoadEnabledMonitors(ctx)
	if err != nil || len(enabled) != 1 {
		t.Fatalf("expected the monitor to be rehydrated, got %d (%v)", len(enabled), err)
	}
	if enabled[0].KnownStatus() != models.StatusDown {
		t.Fatalf("expected persisted down status, got %s", enabled[0].KnownStatus())
	}

	second := newMonitor("after-restart", 1, true)
	if err := reopened.CreateMonitor(ctx, second); err != nil {
		t.Fatalf("CreateMonitor: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("expected ids to keep increasing across restarts, got %d after %d", second.ID, first.ID)
	}
}

func TestBadgerStoreResultsExpire(t *testing.T) {
	store, err := NewBadgerStore(BadgerOptions{InMemory: true, Retention: time.Second}, testLogger(t))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	if err := store.SaveResult(ctx, newResult(1, now, models.StatusUp)); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	results, _ := store.History(ctx, 1, now.Add(-time.Minute), now.Add(time.Minute))
	if len(results) != 1 {
		t.Fatalf("expected the result before expiry, got %d", len(results))
	}

	// Badger TTLs have second granularity.
	time.Sleep(2100 * time.Millisecond)
	results, _ = store.History(ctx, 1, now.Add(-time.Minute), now.Add(time.Minute))
	if len(results) != 0 {
		t.Fatalf("expected the result to expire, got %d", len(results))
	}
}
