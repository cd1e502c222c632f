// Package service provides the event writer: the single path through
// which every event enters the log.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentdeck/ops-console/internal/bus"
	"github.com/agentdeck/ops-console/internal/model"
	"github.com/agentdeck/ops-console/pkg/logger"
	"github.com/agentdeck/ops-console/pkg/metrics"
)

// Appender is the slice of the event store the writer needs.
type Appender interface {
	Append(ctx context.Context, evt *model.Event) error
}

// Broadcaster receives each event once, after it is durably persisted.
// Implementations must not block the caller.
type Broadcaster interface {
	Broadcast(evt *model.Event)
}

// Writer validates candidate events, assigns identity and order,
// persists them, and hands them to the broadcaster.
type Writer struct {
	store  Appender
	hub    Broadcaster
	bus    bus.Publisher
	logger *logger.Logger

	// mu serializes (ts, id) assignment, the durable append, and the
	// hand-off to the broadcaster, so commit order and broadcast order
	// are the same order.
	mu     sync.Mutex
	lastTS time.Time
}

// NewWriter creates an event writer.
func NewWriter(store Appender, h Broadcaster, pub bus.Publisher, log *logger.Logger) *Writer {
	if pub == nil {
		pub = bus.Noop{}
	}
	return &Writer{store: store, hub: h, bus: pub, logger: log}
}

// Append validates cand, stamps id and timestamp, persists the event,
// and fans it out. The caller is acknowledged once the event is
// durable; fan-out completion is not awaited. On validation failure a
// *model.ValidationError is returned and nothing is persisted or
// broadcast.
func (w *Writer) Append(ctx context.Context, cand *model.Candidate) (*model.Event, error) {
	if !model.Whitelisted(cand.Type) {
		metrics.EventsRejected.WithLabelValues("unknown_type").Inc()
		return nil, &model.ValidationError{
			EventType: cand.Type,
			Field:     "type",
			Reason:    "is not an accepted event type",
		}
	}

	payload := cand.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if err := model.ValidatePayload(cand.Type, payload); err != nil {
		metrics.EventsRejected.WithLabelValues("payload").Inc()
		return nil, err
	}

	evt := &model.Event{
		Type:     cand.Type,
		Actor:    cand.Actor,
		ActorID:  cand.ActorID,
		TargetID: cand.TargetID,
		Payload:  payload,
		Severity: cand.Severity,
		ThreadID: cand.ThreadID,
		Metadata: cand.Metadata,
	}
	if evt.Actor == "" {
		evt.Actor = "system"
	}
	if evt.ActorID == "" {
		evt.ActorID = "system"
	}
	if evt.Severity == "" {
		evt.Severity = model.SeverityInfo
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ts := time.Now().UTC()
	if !ts.After(w.lastTS) {
		// Same-clock appends get nudged forward a nanosecond so the
		// (ts, id) order strictly increases with commit order.
		ts = w.lastTS.Add(time.Nanosecond)
	}
	evt.TS = ts
	evt.ID = uuid.Must(uuid.NewV7()).String()

	if err := w.store.Append(ctx, evt); err != nil {
		// No broadcast on a failed append: an event is visible only
		// once it is durable.
		return nil, fmt.Errorf("append %s event: %w", evt.Type, err)
	}
	w.lastTS = ts

	metrics.EventsAppended.WithLabelValues(evt.Type).Inc()

	// Still under the lock: the broadcaster sees events in commit
	// order. Broadcast only enqueues, so this stays cheap.
	w.hub.Broadcast(evt)

	if err := w.bus.Publish(ctx, evt); err != nil {
		metrics.BusPublishErrors.Inc()
		w.logger.Warn("bus publish failed",
			zap.String("event_id", evt.ID),
			zap.Error(err),
		)
	}

	return evt, nil
}
