package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the stable tag stored next to every serialized event.
type EventType string

// Event types
const (
	EventTypeAccountCreated   EventType = "account.created"
	EventTypeMoneyDeposited   EventType = "money.deposited"
	EventTypeMoneyWithdrawn   EventType = "money.withdrawn"
	EventTypeMoneyTransferred EventType = "money.transferred"
	EventTypeTransferReceived EventType = "transfer.received"
	EventTypeAccountSuspended EventType = "account.suspended"
)

// Aggregate types
const (
	AggregateTypeAccount = "account"
)

// EventTypes lists every event type the account aggregate can emit.
var EventTypes = []EventType{
	EventTypeAccountCreated,
	EventTypeMoneyDeposited,
	EventTypeMoneyWithdrawn,
	EventTypeMoneyTransferred,
	EventTypeTransferReceived,
	EventTypeAccountSuspended,
}

// EventPayload is the closed set of account event payloads.
type EventPayload interface {
	EventType() EventType
	eventPayload()
}

// DomainEvent is an immutable fact produced by an aggregate operation.
type DomainEvent struct {
	ID          string
	AggregateID string
	Version     int64
	OccurredAt  time.Time
	Payload     EventPayload
}

// Type returns the payload's type tag.
func (e DomainEvent) Type() EventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

// AccountCreated payload
type AccountCreated struct {
	AccountID     string `json:"account_id"`
	OwnerID       string `json:"owner_id"`
	AccountNumber string `json:"account_number"`
	Currency      string `json:"currency"`
}

// MoneyDeposited payload
type MoneyDeposited struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id"`
	Amount        Money  `json:"amount"`
	BalanceAfter  Money  `json:"balance_after"`
	Description   string `json:"description,omitempty"`
}

// MoneyWithdrawn payload
type MoneyWithdrawn struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id"`
	Amount        Money  `json:"amount"`
	BalanceAfter  Money  `json:"balance_after"`
	Description   string `json:"description,omitempty"`
}

// MoneyTransferred payload, recorded against the source account.
type MoneyTransferred struct {
	AccountID            string `json:"account_id"`
	TransactionID        string `json:"transaction_id"`
	DestinationAccountID string `json:"destination_account_id"`
	Amount               Money  `json:"amount"`
	BalanceAfter         Money  `json:"balance_after"`
	Description          string `json:"description,omitempty"`
}

// TransferReceived payload, recorded against the destination account.
type TransferReceived struct {
	AccountID           string `json:"account_id"`
	TransactionID       string `json:"transaction_id"`
	SourceAccountID     string `json:"source_account_id"`
	SourceTransactionID string `json:"source_transaction_id"`
	Amount              Money  `json:"amount"`
	BalanceAfter        Money  `json:"balance_after"`
	Description         string `json:"description,omitempty"`
}

// AccountSuspended payload
type AccountSuspended struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
}

func (AccountCreated) EventType() EventType   { return EventTypeAccountCreated }
func (MoneyDeposited) EventType() EventType   { return EventTypeMoneyDeposited }
func (MoneyWithdrawn) EventType() EventType   { return EventTypeMoneyWithdrawn }
func (MoneyTransferred) EventType() EventType { return EventTypeMoneyTransferred }
func (TransferReceived) EventType() EventType { return EventTypeTransferReceived }
func (AccountSuspended) EventType() EventType { return EventTypeAccountSuspended }

func (AccountCreated) eventPayload()   {}
func (MoneyDeposited) eventPayload()   {}
func (MoneyWithdrawn) eventPayload()   {}
func (MoneyTransferred) eventPayload() {}
func (TransferReceived) eventPayload() {}
func (AccountSuspended) eventPayload() {}

// EventRecord is the persisted form of a DomainEvent.
type EventRecord struct {
	ID          string
	AggregateID string
	Version     int64
	EventType   string
	Payload     []byte
	OccurredAt  time.Time
}

// EncodeEvent serializes a domain event into its stored form.
func EncodeEvent(evt DomainEvent) (EventRecord, error) {
	if evt.Payload == nil {
		return EventRecord{}, fmt.Errorf("%w: event %s has no payload", ErrUnknownEventType, evt.ID)
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return EventRecord{}, fmt.Errorf("encode %s: %w", evt.Type(), err)
	}

	return EventRecord{
		ID:          evt.ID,
		AggregateID: evt.AggregateID,
		Version:     evt.Version,
		EventType:   string(evt.Type()),
		Payload:     payload,
		OccurredAt:  evt.OccurredAt,
	}, nil
}

// DecodeEvent restores a domain event from its stored form.
func DecodeEvent(rec EventRecord) (DomainEvent, error) {
	payload, err := DecodePayload(EventType(rec.EventType), rec.Payload)
	if err != nil {
		return DomainEvent{}, err
	}

	return DomainEvent{
		ID:          rec.ID,
		AggregateID: rec.AggregateID,
		Version:     rec.Version,
		OccurredAt:  rec.OccurredAt,
		Payload:     payload,
	}, nil
}

// DecodePayload unmarshals data into the payload type registered for eventType.
func DecodePayload(eventType EventType, data []byte) (EventPayload, error) {
	switch eventType {
	case EventTypeAccountCreated:
		return decodeInto[AccountCreated](eventType, data)
	case EventTypeMoneyDeposited:
		return decodeInto[MoneyDeposited](eventType, data)
	case EventTypeMoneyWithdrawn:
		return decodeInto[MoneyWithdrawn](eventType, data)
	case EventTypeMoneyTransferred:
		return decodeInto[MoneyTransferred](eventType, data)
	case EventTypeTransferReceived:
		return decodeInto[TransferReceived](eventType, data)
	case EventTypeAccountSuspended:
		return decodeInto[AccountSuspended](eventType, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

func decodeInto[T EventPayload](eventType EventType, data []byte) (EventPayload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return p, nil
}
