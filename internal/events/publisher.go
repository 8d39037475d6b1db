// Package events publishes service events to NATS. The bus is optional:
// a Publisher built without a connection swallows every publish.
package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/graphrag-kernel/internal/jsonx"
)

// Subjects are namespaced under "graphrag.".
const (
	SubjectIngest  = "graphrag.knowledge.ingested"
	SubjectWebhook = "graphrag.webhook"
)

// Event is the wire envelope for bus messages.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Publisher emits events to NATS. A nil connection disables publishing.
type Publisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect dials NATS at url. An empty url returns a disabled publisher.
func Connect(url string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("events")

	if url == "" {
		return &Publisher{logger: logger}, nil
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	logger.Info("Event bus connected", zap.String("url", url))
	return &Publisher{conn: conn, logger: logger}, nil
}

// Enabled reports whether a live connection backs the publisher.
func (p *Publisher) Enabled() bool { return p != nil && p.conn != nil }

// Publish emits one event. Failures are logged, never returned: the bus
// is advisory and must not affect request outcomes.
func (p *Publisher) Publish(subject, eventType string, data map[string]interface{}) {
	if !p.Enabled() {
		return
	}
	payload, err := jsonx.Marshal(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		p.logger.Warn("Failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("Failed to publish event",
			zap.String("subject", subject),
			zap.String("type", eventType),
			zap.Error(err))
	}
}

// Close drains and drops the connection.
func (p *Publisher) Close() {
	if p.Enabled() {
		p.conn.Close()
	}
}
