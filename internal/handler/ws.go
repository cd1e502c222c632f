package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentdeck/ops-console/internal/hub"
	"github.com/agentdeck/ops-console/internal/model"
	"github.com/agentdeck/ops-console/internal/store"
	"github.com/agentdeck/ops-console/pkg/logger"
	"github.com/agentdeck/ops-console/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// sendBufferSize bounds the per-connection outbound queue. When it
	// fills, live deliveries are dropped rather than blocking the
	// broadcaster.
	sendBufferSize = 256

	// replayBufferSize bounds live events parked while a backlog query
	// is in flight.
	replayBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced upstream (CORS / reverse proxy).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades subscriber connections and speaks the feed
// protocol: hello on connect, subscribe -> init backlog -> live events,
// ping/pong in any state.
type WSHandler struct {
	store  *store.Store
	hub    *hub.Hub
	logger *logger.Logger
}

// NewWSHandler creates a new websocket handler.
func NewWSHandler(st *store.Store, h *hub.Hub, log *logger.Logger) *WSHandler {
	return &WSHandler{store: st, hub: h, logger: log}
}

// connState tracks the resume state machine for one connection.
type connState int

const (
	stateAwaitingSubscribe connState = iota
	stateReplaying
	stateLive
	stateClosed
)

// wsConn is one subscriber connection. A single write pump drains the
// send channel, which is the per-observer ordering barrier.
type wsConn struct {
	h    *WSHandler
	ws   *websocket.Conn
	send chan any
	done chan struct{}

	// sub is touched only by the reader goroutine and close.
	sub *hub.Subscription

	mu      sync.Mutex
	state   connState
	gate    model.Cursor
	pending []*model.Event
}

// Serve handles GET /ws
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsConn{
		h:     h,
		ws:    ws,
		send:  make(chan any, sendBufferSize),
		done:  make(chan struct{}),
		state: stateAwaitingSubscribe,
	}

	metrics.IncrementWSConnections()
	h.logger.Info("subscriber connected", zap.String("remote_addr", ws.RemoteAddr().String()))

	go c.writePump()

	c.trySend(&model.HelloMessage{
		Type:       model.MsgHello,
		ServerTime: time.Now().UTC(),
		Version:    model.ProtocolVersion,
	})

	c.readPump(r.Context())
	c.close()

	h.logger.Info("subscriber disconnected", zap.String("remote_addr", ws.RemoteAddr().String()))
}

// Deliver implements hub.Observer. It never blocks: while a replay is
// in flight events are parked on the connection, and a subscriber that
// cannot drain its send buffer loses events instead of stalling the
// broadcaster.
func (c *wsConn) Deliver(evt *model.Event) {
	c.mu.Lock()
	switch c.state {
	case stateReplaying:
		if len(c.pending) < replayBufferSize {
			c.pending = append(c.pending, evt)
		} else {
			metrics.BroadcastDropped.Inc()
		}
		c.mu.Unlock()
	case stateLive:
		c.mu.Unlock()
		c.trySend(&model.EventMessage{Type: model.MsgEvent, Payload: evt})
	default:
		c.mu.Unlock()
	}
}

func (c *wsConn) trySend(msg any) {
	select {
	case c.send <- msg:
	default:
		metrics.BroadcastDropped.Inc()
	}
}

func (c *wsConn) readPump(ctx context.Context) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg model.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.trySend(&model.ErrorMessage{Type: model.MsgError, Message: "invalid message"})
			continue
		}

		switch msg.Type {
		case model.MsgPing:
			c.trySend(&model.AckMessage{Type: model.MsgPong})
		case model.MsgAuth:
			// Hook point only: acknowledge without enforcement.
			c.trySend(&model.AckMessage{Type: model.MsgAuthOK})
		case model.MsgSubscribe:
			c.handleSubscribe(ctx, &msg)
		default:
			c.trySend(&model.ErrorMessage{Type: model.MsgError, Message: "unknown message type"})
		}
	}
}

// handleSubscribe runs the Replaying phase: register with the hub so
// concurrent appends are parked, fetch the backlog, send it as a single
// init, then flush parked events strictly after the gate cursor and go
// Live. Re-subscribing while Live re-enters this path with the new
// filter.
func (c *wsConn) handleSubscribe(ctx context.Context, msg *model.ClientMessage) {
	var filter hub.Filter
	if msg.Filters != nil {
		filter = hub.Filter{
			Types:    msg.Filters.Types,
			ActorIDs: msg.Filters.Actors,
			ThreadID: msg.Filters.ThreadID,
		}
	}

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateReplaying
	c.pending = nil
	c.mu.Unlock()

	if c.sub == nil {
		c.sub = c.h.hub.Subscribe(c, filter)
	} else {
		c.sub.SetFilter(filter)
	}

	params := store.QueryParams{
		Types:    filter.Types,
		ActorIDs: filter.ActorIDs,
		ThreadID: filter.ThreadID,
		Limit:    msg.Limit,
	}

	// Cursor precedence: last_event_id > after_ts > since > none.
	var gate model.Cursor
	switch {
	case msg.LastEventID != "":
		cur, err := c.h.store.ResolveCursor(ctx, msg.LastEventID)
		switch {
		case err == nil:
			params.AfterCursor = cur
			gate = cur
		case errors.Is(err, store.ErrEventNotFound):
			// Stale cursor: fall back to the recent window. Events
			// between the stale cursor and the window start are
			// permanently missed; that is the documented semantic.
			c.h.logger.Warn("resume cursor not found, falling back to recent window",
				zap.String("last_event_id", msg.LastEventID))
		default:
			c.h.logger.Error("failed to resolve resume cursor", zap.Error(err))
			c.failSubscribe("subscribe failed")
			return
		}
	case msg.AfterTS != nil:
		params.AfterTS = *msg.AfterTS
	case msg.Since != nil:
		params.Since = *msg.Since
	}

	events, err := c.h.store.Query(ctx, params)
	if err != nil {
		c.h.logger.Error("backlog query failed", zap.Error(err))
		c.failSubscribe("subscribe failed")
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateReplaying {
		// Connection closed while the query was in flight; the result
		// is discarded, never delivered.
		return
	}

	if len(events) > 0 {
		gate = events[len(events)-1].Cursor()
	}
	c.gate = gate

	c.trySend(&model.InitMessage{Type: model.MsgInit, Events: events, Count: len(events)})

	for _, evt := range c.pending {
		if c.gate.Less(evt.Cursor()) && filter.Matches(evt) {
			c.trySend(&model.EventMessage{Type: model.MsgEvent, Payload: evt})
		}
	}
	c.pending = nil
	c.state = stateLive
}

// failSubscribe reports a failed subscribe and returns the connection
// to AwaitingSubscribe so the client can retry.
func (c *wsConn) failSubscribe(reason string) {
	c.mu.Lock()
	if c.state == stateReplaying {
		c.state = stateAwaitingSubscribe
		c.pending = nil
	}
	c.mu.Unlock()
	c.trySend(&model.ErrorMessage{Type: model.MsgError, Message: reason})
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close deregisters the connection synchronously so no further
// broadcast attempts target it.
func (c *wsConn) close() {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	c.pending = nil
	c.mu.Unlock()

	if c.sub != nil {
		c.h.hub.Unsubscribe(c.sub)
		c.sub = nil
	}
	close(c.done)
	c.ws.Close()
	metrics.DecrementWSConnections()
}
