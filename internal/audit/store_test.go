package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/clock"
)

func newTestStore(t *testing.T, maxEntries int) (*Store, *clock.MockClock) {
	t.Helper()
	mock := clock.NewMockClock(time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC))
	store, err := NewStore(filepath.Join(t.TempDir(), "audit.db"), maxEntries, mock)
	if err != nil {
		t.Fatalf("failed to create audit store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mock
}

func TestWriteAndQuery(t *testing.T) {
	store, _ := newTestStore(t, 0)

	if err := store.Record(SourceAPI, "alice", "toggle-block", "manual block"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := store.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	evt := events[0]
	if evt.ID == "" {
		t.Error("event ID should be assigned")
	}
	if evt.Timestamp.IsZero() {
		t.Error("event timestamp should be assigned")
	}
	if evt.Subject != "alice" || evt.Action != "toggle-block" || evt.Source != SourceAPI {
		t.Errorf("event fields wrong: %+v", evt)
	}
	if evt.Detail != "manual block" {
		t.Errorf("detail = %q", evt.Detail)
	}
}

func TestQueryFilters(t *testing.T) {
	store, mock := newTestStore(t, 0)

	store.Record(SourceAPI, "alice", "toggle-block", "")
	mock.Advance(time.Second)
	store.Record(SourceAPI, "bob", "toggle-allow", "")
	mock.Advance(time.Second)
	store.Record(SourceEngine, "alice", "reconcile-block", "")

	byAlice, err := store.Query("alice", "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byAlice) != 2 {
		t.Errorf("expected 2 alice events, got %d", len(byAlice))
	}

	byAction, _ := store.Query("", "toggle-allow", 0)
	if len(byAction) != 1 || byAction[0].Subject != "bob" {
		t.Errorf("action filter failed: %+v", byAction)
	}

	both, _ := store.Query("alice", "reconcile-block", 0)
	if len(both) != 1 || both[0].Source != SourceEngine {
		t.Errorf("combined filter failed: %+v", both)
	}
}

func TestQueryNewestFirst(t *testing.T) {
	store, mock := newTestStore(t, 0)

	store.Record(SourceAPI, "alice", "first", "")
	mock.Advance(time.Minute)
	store.Record(SourceAPI, "alice", "second", "")
	mock.Advance(time.Minute)
	store.Record(SourceAPI, "alice", "third", "")

	events, _ := store.Recent(2)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Action != "third" || events[1].Action != "second" {
		t.Errorf("events not newest-first: %s, %s", events[0].Action, events[1].Action)
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	store, mock := newTestStore(t, 3)

	for i := 0; i < 5; i++ {
		store.Record(SourceEngine, "alice", "tick", "")
		mock.Advance(time.Second)
	}
	store.Record(SourceAPI, "alice", "latest", "")

	removed, err := store.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 pruned, got %d", removed)
	}

	count, _ := store.Count()
	if count != 3 {
		t.Errorf("expected 3 remaining, got %d", count)
	}

	// The newest entry survives
	events, _ := store.Recent(1)
	if len(events) != 1 || events[0].Action != "latest" {
		t.Errorf("newest entry lost: %+v", events)
	}
}

func TestPruneUnderCap(t *testing.T) {
	store, _ := newTestStore(t, 100)

	store.Record(SourceAPI, "alice", "one", "")

	removed, err := store.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected nothing pruned, got %d", removed)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	store, err := NewStore(dbPath, 0, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	store.Record(SourceCLI, "alice", "toggle-allow", "")
	store.Close()

	reopened, err := NewStore(dbPath, 0, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	count, _ := reopened.Count()
	if count != 1 {
		t.Errorf("expected 1 event after reopen, got %d", count)
	}
}
