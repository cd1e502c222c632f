// Package model defines data structures for the activity feed.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies an event for display. It never affects delivery.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Trade payload modes accepted for the trade.* event family.
const (
	TradeModePaper = "paper"
	TradeModeLive  = "live"
)

// Event is an immutable record of something that happened in the console.
// (TS, ID) forms the total order used by every cursor and range query;
// neither component alone is a valid cursor, since two events may share
// a timestamp.
type Event struct {
	ID       string         `json:"id"`
	TS       time.Time      `json:"ts"`
	Type     string         `json:"type"`
	Actor    string         `json:"actor"`
	ActorID  string         `json:"actor_id"`
	TargetID string         `json:"target_id,omitempty"`
	Payload  map[string]any `json:"payload"`
	Severity Severity       `json:"severity"`
	ThreadID string         `json:"thread_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Cursor returns the event's position in the total order.
func (e *Event) Cursor() Cursor {
	return Cursor{TS: e.TS, ID: e.ID}
}

// Cursor marks a position in the (ts, id) total order.
type Cursor struct {
	TS time.Time `json:"ts"`
	ID string    `json:"id"`
}

// Less reports whether c strictly precedes other.
func (c Cursor) Less(other Cursor) bool {
	if c.TS.Before(other.TS) {
		return true
	}
	return c.TS.Equal(other.TS) && c.ID < other.ID
}

// IsZero reports whether c is the unset cursor, which precedes every event.
func (c Cursor) IsZero() bool {
	return c.ID == "" && c.TS.IsZero()
}

// Candidate is a not-yet-persisted event as submitted by a producer.
// The writer assigns ID and TS at append time.
type Candidate struct {
	Type     string         `json:"type"`
	Actor    string         `json:"actor"`
	ActorID  string         `json:"actor_id"`
	TargetID string         `json:"target_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Severity Severity       `json:"severity,omitempty"`
	ThreadID string         `json:"thread_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// payloadRules maps each accepted event type to the payload fields it
// requires. The key set doubles as the type whitelist.
var payloadRules = map[string][]string{
	"human.command":      {"text"},
	"agent.message":      {"text"},
	"agent.debate":       {"text"},
	"agent.review":       {"text"},
	"trade.intent":       {"symbol", "mode"},
	"trade.order":        {"symbol", "mode"},
	"trade.fill":         {"symbol", "mode"},
	"trade.fee":          {"symbol", "mode"},
	"trade.pnl_update":   {"symbol", "mode"},
	"trade.decision_log": {"symbol", "mode"},
	"task.created":       {"task_id"},
	"task.assigned":      {"task_id"},
	"task.started":       {"task_id"},
	"task.completed":     {"task_id"},
	"task.failed":        {"task_id"},
	"approval.requested": {"request_id"},
	"approval.approved":  {"request_id"},
	"approval.rejected":  {"request_id"},
	"system.message":     {},
}

// Whitelisted reports whether t is an accepted event type.
func Whitelisted(t string) bool {
	_, ok := payloadRules[t]
	return ok
}

// EventTypes returns the closed set of accepted event types.
func EventTypes() []string {
	types := make([]string, 0, len(payloadRules))
	for t := range payloadRules {
		types = append(types, t)
	}
	return types
}

// ValidationError describes why a candidate event was rejected.
type ValidationError struct {
	EventType string
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s event: field %q %s", e.EventType, e.Field, e.Reason)
}

// ValidatePayload checks the required-field rule for the given type.
// Trade-family events must additionally carry mode "paper" or "live".
func ValidatePayload(eventType string, payload map[string]any) error {
	for _, field := range payloadRules[eventType] {
		if v, ok := payload[field]; !ok || v == nil {
			return &ValidationError{EventType: eventType, Field: field, Reason: "is required"}
		}
	}

	if strings.HasPrefix(eventType, "trade.") {
		mode, _ := payload["mode"].(string)
		if mode != TradeModePaper && mode != TradeModeLive {
			return &ValidationError{
				EventType: eventType,
				Field:     "mode",
				Reason:    `must be "paper" or "live"`,
			}
		}
	}

	return nil
}
