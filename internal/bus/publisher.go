// Package bus mirrors committed events onto an external message bus so
// out-of-process consumers can follow the feed without a websocket.
package bus

import (
	"context"

	"github.com/agentdeck/ops-console/internal/model"
)

// Publisher mirrors events to out-of-process consumers. Mirroring is
// best effort: failures never affect the durable append.
type Publisher interface {
	Publish(ctx context.Context, evt *model.Event) error
	Close() error
}

// Noop discards everything; used when no bus is configured.
type Noop struct{}

func (Noop) Publish(context.Context, *model.Event) error { return nil }

func (Noop) Close() error { return nil }
