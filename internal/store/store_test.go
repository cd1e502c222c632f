package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentdeck/ops-console/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Config{SQLitePath: filepath.Join(t.TempDir(), "events.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

// seedEvents appends n events with strictly increasing timestamps and
// predictable ids ev-000 .. ev-<n-1>.
func seedEvents(t *testing.T, s *Store, n int) []model.Event {
	t.Helper()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := make([]model.Event, n)

	for i := 0; i < n; i++ {
		evt := model.Event{
			ID:       fmt.Sprintf("ev-%03d", i),
			TS:       base.Add(time.Duration(i) * time.Millisecond),
			Type:     "system.message",
			Actor:    "system",
			ActorID:  "system",
			Payload:  map[string]any{"n": float64(i)},
			Severity: model.SeverityInfo,
		}
		if err := s.Append(context.Background(), &evt); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
		events[i] = evt
	}

	return events
}

func ids(events []model.Event) []string {
	out := make([]string, len(events))
	for i := range events {
		out[i] = events[i].ID
	}
	return out
}

func assertIDs(t *testing.T, got []model.Event, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(got), ids(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("position %d: got %q, want %q (all: %v)", i, got[i].ID, want[i], ids(got))
		}
	}
}

func TestQueryNoCursorReturnsRecentWindowAscending(t *testing.T) {
	s := openTestStore(t)
	seedEvents(t, s, 5)

	got, err := s.Query(context.Background(), QueryParams{Limit: 3})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	// Most recent 3, reversed to ascending order.
	assertIDs(t, got, "ev-002", "ev-003", "ev-004")
}

func TestQueryAfterID(t *testing.T) {
	s := openTestStore(t)
	seedEvents(t, s, 5)

	got, err := s.Query(context.Background(), QueryParams{AfterID: "ev-001"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	// Strictly greater than the cursor: the event right after ev-001
	// comes first.
	assertIDs(t, got, "ev-002", "ev-003", "ev-004")
}

func TestQueryAfterIDIdempotent(t *testing.T) {
	s := openTestStore(t)
	seedEvents(t, s, 5)

	first, err := s.Query(context.Background(), QueryParams{AfterID: "ev-000"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	second, err := s.Query(context.Background(), QueryParams{AfterID: "ev-000"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	assertIDs(t, second, ids(first)...)
}

func TestQueryAfterIDNotFound(t *testing.T) {
	s := openTestStore(t)
	seedEvents(t, s, 2)

	_, err := s.Query(context.Background(), QueryParams{AfterID: "ev-999"})
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("got %v, want ErrEventNotFound", err)
	}
}

func TestQueryBeforeID(t *testing.T) {
	s := openTestStore(t)
	seedEvents(t, s, 5)

	got, err := s.Query(context.Background(), QueryParams{BeforeID: "ev-004", Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	// The two events immediately preceding the cursor, ascending.
	assertIDs(t, got, "ev-002", "ev-003")
}

func TestQueryAfterTS(t *testing.T) {
	s := openTestStore(t)
	events := seedEvents(t, s, 4)

	got, err := s.Query(context.Background(), QueryParams{AfterTS: events[1].TS})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	assertIDs(t, got, "ev-002", "ev-003")
}

func TestQuerySameTimestampOrderedByID(t *testing.T) {
	s := openTestStore(t)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"ev-b", "ev-a"} {
		evt := model.Event{
			ID: id, TS: ts, Type: "system.message",
			Actor: "system", ActorID: "system",
			Payload: map[string]any{}, Severity: model.SeverityInfo,
		}
		if err := s.Append(context.Background(), &evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.Query(context.Background(), QueryParams{AfterID: "ev-a"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	assertIDs(t, got, "ev-b")
}

func TestQueryFiltersAreConjunctive(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := []model.Event{
		{ID: "ev-000", Type: "human.command", ActorID: "user", ThreadID: "T1"},
		{ID: "ev-001", Type: "agent.message", ActorID: "trading", ThreadID: "T1"},
		{ID: "ev-002", Type: "agent.message", ActorID: "research", ThreadID: "T2"},
		{ID: "ev-003", Type: "agent.message", ActorID: "trading", ThreadID: "T2"},
	}
	for i := range rows {
		rows[i].TS = base.Add(time.Duration(i) * time.Millisecond)
		rows[i].Actor = "x"
		rows[i].Payload = map[string]any{}
		rows[i].Severity = model.SeverityInfo
		if err := s.Append(context.Background(), &rows[i]); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.Query(context.Background(), QueryParams{
		Types:    []string{"agent.message"},
		ActorIDs: []string{"trading"},
		ThreadID: "T1",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	assertIDs(t, got, "ev-001")
}

func TestQueryLimitClamped(t *testing.T) {
	s := openTestStore(t)
	seedEvents(t, s, MaxQueryLimit+10)

	got, err := s.Query(context.Background(), QueryParams{Limit: MaxQueryLimit + 100})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != MaxQueryLimit {
		t.Fatalf("got %d events, want clamp to %d", len(got), MaxQueryLimit)
	}

	got, err = s.Query(context.Background(), QueryParams{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != DefaultQueryLimit {
		t.Fatalf("got %d events, want default %d", len(got), DefaultQueryLimit)
	}
}

func TestQueryRoundTripsPayloadAndMetadata(t *testing.T) {
	s := openTestStore(t)

	evt := model.Event{
		ID:       "ev-000",
		TS:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Type:     "trade.fill",
		Actor:    "agent",
		ActorID:  "trading",
		TargetID: "user",
		Payload:  map[string]any{"symbol": "ETH", "mode": "paper", "qty": 1.5},
		Severity: model.SeverityWarn,
		ThreadID: "T1",
		Metadata: map[string]any{"source": "sim"},
	}
	if err := s.Append(context.Background(), &evt); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Query(context.Background(), QueryParams{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}

	read := got[0]
	if read.Payload["symbol"] != "ETH" || read.Payload["mode"] != "paper" || read.Payload["qty"] != 1.5 {
		t.Errorf("payload mangled: %v", read.Payload)
	}
	if read.Metadata["source"] != "sim" {
		t.Errorf("metadata mangled: %v", read.Metadata)
	}
	if read.TargetID != "user" || read.ThreadID != "T1" || read.Severity != model.SeverityWarn {
		t.Errorf("fields mangled: %+v", read)
	}
}

func TestResolveCursor(t *testing.T) {
	s := openTestStore(t)
	events := seedEvents(t, s, 3)

	cur, err := s.ResolveCursor(context.Background(), "ev-001")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cur.ID != "ev-001" || !cur.TS.Equal(events[1].TS) {
		t.Errorf("got %+v, want cursor of ev-001", cur)
	}

	_, err = s.ResolveCursor(context.Background(), "ev-999")
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("got %v, want ErrEventNotFound", err)
	}
}

func TestLatestCursor(t *testing.T) {
	s := openTestStore(t)

	cur, err := s.LatestCursor(context.Background())
	if err != nil {
		t.Fatalf("latest cursor: %v", err)
	}
	if !cur.IsZero() {
		t.Fatalf("empty log must yield the zero cursor, got %+v", cur)
	}

	seedEvents(t, s, 3)

	cur, err = s.LatestCursor(context.Background())
	if err != nil {
		t.Fatalf("latest cursor: %v", err)
	}
	if cur.ID != "ev-002" {
		t.Errorf("got %q, want newest event id", cur.ID)
	}
}
