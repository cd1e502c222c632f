package model

import (
	"time"
)

// Subscriber protocol version announced in the hello message.
const ProtocolVersion = "1.0"

// Client-to-server message kinds.
const (
	MsgSubscribe = "subscribe"
	MsgPing      = "ping"
	MsgAuth      = "auth"
)

// Server-to-client message kinds.
const (
	MsgHello  = "hello"
	MsgInit   = "init"
	MsgEvent  = "event"
	MsgPong   = "pong"
	MsgAuthOK = "auth_ok"
	MsgError  = "error"
)

// FilterSpec is the per-subscription filter declared by a subscriber.
// Omitted dimensions match everything.
type FilterSpec struct {
	Types    []string `json:"types,omitempty"`
	Actors   []string `json:"actors,omitempty"`
	ThreadID string   `json:"thread_id,omitempty"`
}

// ClientMessage is the tagged union of messages a subscriber may send.
// Cursor fields apply to subscribe only, with precedence
// last_event_id > after_ts > since.
type ClientMessage struct {
	Type        string      `json:"type"`
	Filters     *FilterSpec `json:"filters,omitempty"`
	LastEventID string      `json:"last_event_id,omitempty"`
	AfterTS     *time.Time  `json:"after_ts,omitempty"`
	Since       *time.Time  `json:"since,omitempty"`
	Limit       int         `json:"limit,omitempty"`
	Token       string      `json:"token,omitempty"`
}

// HelloMessage is pushed once on connection establishment.
type HelloMessage struct {
	Type       string    `json:"type"`
	ServerTime time.Time `json:"server_time"`
	Version    string    `json:"version"`
}

// InitMessage carries the ordered backlog batch after a subscribe.
type InitMessage struct {
	Type   string  `json:"type"`
	Events []Event `json:"events"`
	Count  int     `json:"count"`
}

// EventMessage carries one live event.
type EventMessage struct {
	Type    string `json:"type"`
	Payload *Event `json:"payload"`
}

// AckMessage is a bare typed acknowledgement (pong, auth_ok).
type AckMessage struct {
	Type string `json:"type"`
}

// ErrorMessage reports a malformed or unrecognized client message.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AppendEventResponse is returned by the write endpoint.
type AppendEventResponse struct {
	Success bool   `json:"success"`
	Event   *Event `json:"event"`
}

// EventsResponse is returned by the polling query endpoint.
type EventsResponse struct {
	Events []Event `json:"events"`
	Count  int     `json:"count"`
}

// CursorResponse reports the newest event's cursor position.
type CursorResponse struct {
	LastEventID string     `json:"last_event_id,omitempty"`
	LastTS      *time.Time `json:"last_ts,omitempty"`
}

// CommandRequest is the human-facing passthrough for issuing a command.
type CommandRequest struct {
	ToAgentID string `json:"to_agent_id"`
	Text      string `json:"text"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// CommandResponse acknowledges an accepted command.
type CommandResponse struct {
	Success   bool   `json:"success"`
	CommandID string `json:"command_id"`
	ThreadID  string `json:"thread_id"`
}
