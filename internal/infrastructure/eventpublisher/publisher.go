package eventpublisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/eventledger/internal/domain"
)

// Message is one record as handed to the message bus.
type Message struct {
	Topic   string
	Key     string
	Type    string
	Payload []byte
	Headers map[string]string
}

// Header names set on every message.
const (
	HeaderEventID          = "event_id"
	HeaderOutboxID         = "outbox_id"
	HeaderAggregateVersion = "aggregate_version"
)

// Publisher defines the interface for publishing messages to external systems.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Store is the part of the outbox the dispatcher needs.
type Store interface {
	FetchPending(ctx context.Context, limit int, now time.Time) ([]*domain.OutboxRecord, error)
	ApplyResults(ctx context.Context, results []domain.DispatchResult) error
	CountPending(ctx context.Context) (int64, error)
}

// LogPublisher is a simple publisher that logs messages.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a new LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the message.
func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	entry := p.logger.Info().
		Str("topic", msg.Topic).
		Str("key", msg.Key).
		Str("message_type", msg.Type).
		Str("event_id", msg.Headers[HeaderEventID])

	if json.Valid(msg.Payload) {
		entry = entry.RawJSON("payload", msg.Payload)
	} else {
		entry = entry.Bytes("payload", msg.Payload)
	}

	entry.Msg("message published")
	return nil
}
