package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/agentdeck/ops-console/internal/model"
	"github.com/agentdeck/ops-console/pkg/logger"
)

type fakeStore struct {
	mu     sync.Mutex
	events []*model.Event
	err    error
}

func (f *fakeStore) Append(_ context.Context, evt *model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

type fakeHub struct {
	mu     sync.Mutex
	events []*model.Event
}

func (f *fakeHub) Broadcast(evt *model.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func newTestWriter(st *fakeStore, h *fakeHub) *Writer {
	return NewWriter(st, h, nil, logger.NewNop())
}

func TestAppendAssignsIdentityAndDefaults(t *testing.T) {
	st := &fakeStore{}
	h := &fakeHub{}
	w := newTestWriter(st, h)

	evt, err := w.Append(context.Background(), &model.Candidate{
		Type:    "system.message",
		Payload: map[string]any{"text": "boot"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if evt.ID == "" {
		t.Error("event id not assigned")
	}
	if evt.TS.IsZero() {
		t.Error("timestamp not assigned")
	}
	if evt.Actor != "system" || evt.ActorID != "system" {
		t.Errorf("actor defaults not applied: %q/%q", evt.Actor, evt.ActorID)
	}
	if evt.Severity != model.SeverityInfo {
		t.Errorf("severity default not applied: %q", evt.Severity)
	}

	if len(st.events) != 1 || st.events[0].ID != evt.ID {
		t.Errorf("event not persisted")
	}
	if len(h.events) != 1 || h.events[0].ID != evt.ID {
		t.Errorf("event not broadcast")
	}
}

func TestAppendNilPayloadBecomesEmptyMap(t *testing.T) {
	st := &fakeStore{}
	w := newTestWriter(st, &fakeHub{})

	evt, err := w.Append(context.Background(), &model.Candidate{Type: "system.message"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if evt.Payload == nil || len(evt.Payload) != 0 {
		t.Errorf("payload = %v, want empty map", evt.Payload)
	}
}

func TestAppendRejectsUnknownType(t *testing.T) {
	st := &fakeStore{}
	h := &fakeHub{}
	w := newTestWriter(st, h)

	_, err := w.Append(context.Background(), &model.Candidate{Type: "bogus.type"})

	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "type" {
		t.Errorf("got field %q, want \"type\"", verr.Field)
	}
	if len(st.events) != 0 || len(h.events) != 0 {
		t.Error("rejected event reached the store or the hub")
	}
}

func TestAppendRejectsInvalidTradeMode(t *testing.T) {
	st := &fakeStore{}
	w := newTestWriter(st, &fakeHub{})

	_, err := w.Append(context.Background(), &model.Candidate{
		Type:    "trade.order",
		Payload: map[string]any{"symbol": "ETH", "mode": "demo"},
	})

	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "mode" {
		t.Errorf("got field %q, want \"mode\"", verr.Field)
	}
	if len(st.events) != 0 {
		t.Error("rejected trade persisted")
	}
}

func TestAppendStoreFailureSuppressesBroadcast(t *testing.T) {
	st := &fakeStore{err: errors.New("disk full")}
	h := &fakeHub{}
	w := newTestWriter(st, h)

	_, err := w.Append(context.Background(), &model.Candidate{
		Type:    "system.message",
		Payload: map[string]any{},
	})
	if err == nil {
		t.Fatal("expected append error")
	}
	if len(h.events) != 0 {
		t.Error("failed append was broadcast")
	}

	// The writer stays usable after a failed append.
	st.err = nil
	if _, err := w.Append(context.Background(), &model.Candidate{Type: "system.message"}); err != nil {
		t.Fatalf("append after recovery: %v", err)
	}
}

func TestAppendCursorsStrictlyIncrease(t *testing.T) {
	h := &fakeHub{}
	w := newTestWriter(&fakeStore{}, h)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Append(context.Background(), &model.Candidate{Type: "system.message"}); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(h.events) != n {
		t.Fatalf("hub saw %d events, want %d", len(h.events), n)
	}

	// Broadcast order is commit order, and cursors must strictly
	// increase along it even when the wall clock does not advance.
	for i := 1; i < n; i++ {
		prev := h.events[i-1].Cursor()
		cur := h.events[i].Cursor()
		if !prev.Less(cur) {
			t.Fatalf("cursor at %d does not advance: %+v then %+v", i, prev, cur)
		}
	}
}
