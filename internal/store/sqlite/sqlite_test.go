package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/watchcap/internal/eventlog"
	"github.com/loykin/watchcap/internal/store"
)

func eventFixture() eventlog.Event {
	return eventlog.Event{
		Timestamp: time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC),
		Severity:  eventlog.SeverityError,
		Message:   "producer crashed code=1",
	}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

func TestAppendAndRecent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	for i, msg := range []string{"first", "second", "third"} {
		err := s.AppendEvent(ctx, store.Record{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Severity:  "INFO",
			Message:   msg,
		})
		if err != nil {
			t.Fatalf("append %q: %v", msg, err)
		}
	}

	evs, err := s.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	// newest first
	if evs[0].Message != "third" || evs[1].Message != "second" {
		t.Fatalf("unexpected order: %q %q", evs[0].Message, evs[1].Message)
	}
	if !evs[0].Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("timestamp roundtrip: %s", evs[0].Timestamp)
	}
}

func TestRecentDefaultsLimit(t *testing.T) {
	s := newStore(t)
	evs, err := s.RecentEvents(context.Background(), 0)
	if err != nil {
		t.Fatalf("recent on empty store: %v", err)
	}
	if len(evs) != 0 {
		t.Fatalf("expected no events, got %d", len(evs))
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	s := newStore(t)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
}

func TestSinkAdapterPersistsEvents(t *testing.T) {
	s := newStore(t)
	sink := store.Sink{Store: s}
	err := sink.Append(eventFixture())
	if err != nil {
		t.Fatalf("sink append: %v", err)
	}
	evs, err := s.RecentEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(evs) != 1 || evs[0].Severity != "ERROR" || evs[0].Message != "producer crashed code=1" {
		t.Fatalf("unexpected record: %+v", evs)
	}
}
