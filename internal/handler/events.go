package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/agentdeck/ops-console/internal/model"
	"github.com/agentdeck/ops-console/internal/service"
	"github.com/agentdeck/ops-console/internal/store"
	"github.com/agentdeck/ops-console/pkg/logger"
	"github.com/agentdeck/ops-console/pkg/metrics"
)

// EventHandler handles the trusted write entry point and the polling
// query endpoint.
type EventHandler struct {
	writer *service.Writer
	store  *store.Store
	logger *logger.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(writer *service.Writer, st *store.Store, log *logger.Logger) *EventHandler {
	return &EventHandler{writer: writer, store: st, logger: log}
}

// Create handles POST /api/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cand model.Candidate
	if err := json.NewDecoder(r.Body).Decode(&cand); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	evt, err := h.writer.Append(r.Context(), &cand)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.logger.Error("failed to append event")
		writeError(w, http.StatusInternalServerError, "failed to append event")
		return
	}

	writeJSON(w, http.StatusCreated, &model.AppendEventResponse{
		Success: true,
		Event:   evt,
	})
}

// List handles GET /api/events
// Cursors: ?after_id= or ?before_id=; filters: type, actor_id
// (repeatable), thread_id; limit defaults to 100 and is capped.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := store.QueryParams{
		AfterID:  q.Get("after_id"),
		BeforeID: q.Get("before_id"),
		Types:    q["type"],
		ActorIDs: q["actor_id"],
		ThreadID: q.Get("thread_id"),
	}

	if v := q.Get("after_ts"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			params.AfterTS = ts
		}
	}
	if v := q.Get("since"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			params.Since = ts
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			params.Limit = limit
		}
	}

	start := time.Now()
	events, err := h.store.Query(r.Context(), params)
	if err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "cursor event not found")
			return
		}
		h.logger.Error("failed to query events")
		writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}
	metrics.QueryDuration.Observe(time.Since(start).Seconds())

	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, &model.EventsResponse{
		Events: events,
		Count:  len(events),
	})
}

// Cursor handles GET /api/events/cursor
// Returns the newest event's cursor so a client can start tailing from
// the head of the log.
func (h *EventHandler) Cursor(w http.ResponseWriter, r *http.Request) {
	cur, err := h.store.LatestCursor(r.Context())
	if err != nil {
		h.logger.Error("failed to read latest cursor")
		writeError(w, http.StatusInternalServerError, "failed to read latest cursor")
		return
	}

	resp := &model.CursorResponse{}
	if !cur.IsZero() {
		resp.LastEventID = cur.ID
		ts := cur.TS
		resp.LastTS = &ts
	}

	writeJSON(w, http.StatusOK, resp)
}
