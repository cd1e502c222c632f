// Package hub tracks connected observers and fans appended events out
// to the ones whose filters match.
package hub

import (
	"sync"

	"github.com/agentdeck/ops-console/internal/model"
	"github.com/agentdeck/ops-console/pkg/metrics"
)

// Filter restricts which events a subscription receives. The zero value
// matches everything; within a dimension membership is OR, across
// dimensions the constraints are AND.
type Filter struct {
	Types    []string
	ActorIDs []string
	ThreadID string
}

// Matches reports whether evt satisfies every constraint the filter declares.
func (f Filter) Matches(evt *model.Event) bool {
	if len(f.Types) > 0 && !contains(f.Types, evt.Type) {
		return false
	}
	if len(f.ActorIDs) > 0 && !contains(f.ActorIDs, evt.ActorID) {
		return false
	}
	if f.ThreadID != "" && evt.ThreadID != f.ThreadID {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Observer receives matching events. Deliver must not block: slow
// observers buffer or drop on their own side, never stalling the
// broadcaster or other observers.
type Observer interface {
	Deliver(evt *model.Event)
}

// Subscription ties one observer to its declared filter. The filter may
// be swapped while live (re-subscribe with new constraints).
type Subscription struct {
	observer Observer

	mu     sync.RWMutex
	filter Filter
}

// Filter returns the subscription's current filter.
func (s *Subscription) Filter() Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// SetFilter replaces the subscription's filter.
func (s *Subscription) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// Hub is the subscription registry and broadcaster. Subscribe and
// Unsubscribe are the only mutations; Broadcast iterates a consistent
// view under the read lock.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers an observer with its filter and returns the handle
// used to unsubscribe.
func (h *Hub) Subscribe(obs Observer, f Filter) *Subscription {
	sub := &Subscription{observer: obs, filter: f}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription. Removing an already-removed
// handle is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Len returns the number of registered subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast delivers evt to every subscription whose filter matches.
// The writer invokes it once per appended event, in append order; that
// single ordering barrier plus each observer's FIFO buffer yields
// per-observer delivery in append order.
func (h *Hub) Broadcast(evt *model.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if sub.Filter().Matches(evt) {
			sub.observer.Deliver(evt)
			metrics.BroadcastDelivered.Inc()
		}
	}
}
