package events_test

import (
	"context"
	"encoding/json"
	"testing"

	"namesweep/internal/db"
	"namesweep/internal/events"
	"namesweep/internal/migrate"
)

func newWriter(t *testing.T) events.Writer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return events.Writer{DB: conn}
}

func TestAppendAndLatest(t *testing.T) {
	w := newWriter(t)
	ctx := context.Background()

	if err := w.Append(ctx, events.RunStarted, "v1", "", events.EventPayload{"total": 702}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, events.QueryCompleted, "v1", "aa", events.EventPayload{"names": 3}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, events.QueryFailed, "v2", "a", events.EventPayload{"error": "status 500"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := w.Latest(ctx, 10, "", "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events", len(got))
	}
	if got[0].Type != events.QueryFailed || got[2].Type != events.RunStarted {
		t.Fatalf("order wrong: %s ... %s", got[0].Type, got[2].Type)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(got[1].Payload), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["names"] != float64(3) {
		t.Fatalf("payload = %v", payload)
	}
}

func TestLatestFilters(t *testing.T) {
	w := newWriter(t)
	ctx := context.Background()

	_ = w.Append(ctx, events.RunStarted, "v1", "", nil)
	_ = w.Append(ctx, events.RunFinished, "v1", "", nil)
	_ = w.Append(ctx, events.RunStarted, "v2", "", nil)

	got, err := w.Latest(ctx, 10, "v1", "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("version filter: got %d", len(got))
	}

	got, err = w.Latest(ctx, 10, "v1", events.RunFinished)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 1 || got[0].Type != events.RunFinished {
		t.Fatalf("type filter: %+v", got)
	}
}

func TestLatestLimit(t *testing.T) {
	w := newWriter(t)
	ctx := context.Background()
	for range 5 {
		_ = w.Append(ctx, events.RunCheckpoint, "v1", "", nil)
	}
	got, err := w.Latest(ctx, 2, "", "")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit: got %d", len(got))
	}
}
