package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agentdeck/ops-console/internal/model"
	"github.com/agentdeck/ops-console/pkg/logger"
)

// SubjectPrefix is the prefix for all mirrored feed subjects.
const SubjectPrefix = "feed"

// Subject returns the NATS subject for an event type, e.g.
// "feed.trade.fill".
func Subject(eventType string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, eventType)
}

// NATSPublisher publishes each committed event to a per-type subject.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to NATS with automatic reconnection.
func NewNATSPublisher(url string, log *logger.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish mirrors evt to its per-type subject.
func (p *NATSPublisher) Publish(ctx context.Context, evt *model.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}
	return p.conn.Publish(Subject(evt.Type), data)
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
