package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OutboxRecord is a pending integration message written in the same unit as the state change.
type OutboxRecord struct {
	ID            string
	MessageType   string
	Payload       []byte
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	LastError     *string
	Attempts      int
	NextAttemptAt *time.Time
}

// IsProcessed reports whether the record has left the pending queue.
func (r *OutboxRecord) IsProcessed() bool {
	return r.ProcessedAt != nil
}

// IntegrationEvent is the externally published form of a DomainEvent.
// EventID is the consumer idempotency key.
type IntegrationEvent struct {
	EventID          string          `json:"event_id"`
	AggregateType    string          `json:"aggregate_type"`
	AggregateID      string          `json:"aggregate_id"`
	AggregateVersion int64           `json:"aggregate_version"`
	Type             string          `json:"type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Data             json.RawMessage `json:"data"`
}

// IntegrationMessageType maps a domain event type to its published message type,
// e.g. money.deposited -> ledger.money_deposited.v1.
func IntegrationMessageType(eventType EventType) string {
	return "ledger." + strings.ReplaceAll(string(eventType), ".", "_") + ".v1"
}

// NewIntegrationEvent converts a domain event to its published form.
func NewIntegrationEvent(evt DomainEvent) (IntegrationEvent, error) {
	rec, err := EncodeEvent(evt)
	if err != nil {
		return IntegrationEvent{}, err
	}

	return IntegrationEvent{
		EventID:          evt.ID,
		AggregateType:    AggregateTypeAccount,
		AggregateID:      evt.AggregateID,
		AggregateVersion: evt.Version,
		Type:             IntegrationMessageType(evt.Type()),
		OccurredAt:       evt.OccurredAt,
		Data:             rec.Payload,
	}, nil
}

// NewOutboxRecord wraps evt as a pending outbox record.
func NewOutboxRecord(id string, evt DomainEvent, now time.Time) (*OutboxRecord, error) {
	ie, err := NewIntegrationEvent(evt)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ie)
	if err != nil {
		return nil, fmt.Errorf("encode integration event %s: %w", evt.ID, err)
	}

	return &OutboxRecord{
		ID:          id,
		MessageType: ie.Type,
		Payload:     payload,
		CreatedAt:   now.UTC(),
	}, nil
}

// DispatchStatus is the outcome of one publish attempt.
type DispatchStatus string

// Dispatch statuses
const (
	DispatchStatusPublished    DispatchStatus = "published"
	DispatchStatusRetry        DispatchStatus = "retry"
	DispatchStatusDeadLettered DispatchStatus = "dead_lettered"
)

// DispatchResult is the mark-update for one record after a dispatch attempt.
type DispatchResult struct {
	RecordID      string
	Status        DispatchStatus
	Attempts      int
	ProcessedAt   *time.Time
	NextAttemptAt *time.Time
	LastError     *string
}
