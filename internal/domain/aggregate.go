package domain

import "github.com/google/uuid"

// NewEventID returns a time-ordered event identifier. Consumers use it as the idempotency key.
var NewEventID = func() string {
	return uuid.Must(uuid.NewV7()).String()
}

// AggregateRoot holds identity, version and the events raised since the last save.
type AggregateRoot struct {
	ID      string
	Version int64

	pending []DomainEvent
}

// PendingEvents returns a copy of the events raised since the last save.
func (r *AggregateRoot) PendingEvents() []DomainEvent {
	out := make([]DomainEvent, len(r.pending))
	copy(out, r.pending)
	return out
}

// HasPendingEvents reports whether the aggregate has unsaved events.
func (r *AggregateRoot) HasPendingEvents() bool {
	return len(r.pending) > 0
}

// ExpectedVersion is the version the event store must hold before the pending events are appended.
func (r *AggregateRoot) ExpectedVersion() int64 {
	return r.Version - int64(len(r.pending))
}

// ClearPendingEvents drops pending events after a successful save.
func (r *AggregateRoot) ClearPendingEvents() {
	r.pending = nil
}

func (r *AggregateRoot) recordEvent(evt DomainEvent) {
	r.pending = append(r.pending, evt)
}
