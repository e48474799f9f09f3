package eventpublisher

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/iho/eventledger/internal/domain"
)

// Topics the ledger publishes to.
const (
	TopicAccounts     = "ledger.accounts"
	TopicTransactions = "ledger.transactions"
)

// DecodeFunc validates a stored payload and returns the integration event it carries.
type DecodeFunc func(payload []byte) (domain.IntegrationEvent, error)

// Route is where a message type goes and how its payload is checked.
type Route struct {
	Topic  string
	Decode DecodeFunc
}

// Registry maps outbox message types to routes. It is filled at startup and
// read-only afterwards.
type Registry struct {
	routes map[string]Route
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]Route)}
}

// DefaultRegistry routes every account event type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, eventType := range domain.EventTypes {
		topic := TopicTransactions
		switch eventType {
		case domain.EventTypeAccountCreated, domain.EventTypeAccountSuspended:
			topic = TopicAccounts
		}
		r.MustRegister(domain.IntegrationMessageType(eventType), topic, IntegrationDecoder(eventType))
	}
	return r
}

// MustRegister is like Register but panics on error. Use it for routes wired
// at startup.
func (r *Registry) MustRegister(messageType, topic string, decode DecodeFunc) {
	if err := r.Register(messageType, topic, decode); err != nil {
		panic(err)
	}
}

// Register adds a route. Registering a message type twice is an error.
func (r *Registry) Register(messageType, topic string, decode DecodeFunc) error {
	if _, ok := r.routes[messageType]; ok {
		return fmt.Errorf("message type %q already registered", messageType)
	}
	if topic == "" || decode == nil {
		return fmt.Errorf("message type %q needs a topic and a decoder", messageType)
	}
	r.routes[messageType] = Route{Topic: topic, Decode: decode}
	return nil
}

// Resolve returns the route for messageType.
func (r *Registry) Resolve(messageType string) (Route, error) {
	route, ok := r.routes[messageType]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", domain.ErrUnknownMessageType, messageType)
	}
	return route, nil
}

// MessageTypes lists registered message types in sorted order.
func (r *Registry) MessageTypes() []string {
	types := make([]string, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IntegrationDecoder decodes an IntegrationEvent envelope and checks that its
// data is a well-formed payload of eventType.
func IntegrationDecoder(eventType domain.EventType) DecodeFunc {
	want := domain.IntegrationMessageType(eventType)

	return func(payload []byte) (domain.IntegrationEvent, error) {
		var evt domain.IntegrationEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return domain.IntegrationEvent{}, fmt.Errorf("decode envelope: %w", err)
		}
		if evt.Type != want {
			return domain.IntegrationEvent{}, fmt.Errorf("envelope type %q, want %q", evt.Type, want)
		}
		if evt.EventID == "" || evt.AggregateID == "" {
			return domain.IntegrationEvent{}, fmt.Errorf("envelope for %s is missing ids", want)
		}
		if _, err := domain.DecodePayload(eventType, evt.Data); err != nil {
			return domain.IntegrationEvent{}, err
		}
		return evt, nil
	}
}

// message builds the bus message for a record. Records are keyed by aggregate
// so a partitioned bus keeps each account's events in order.
func (r Route) message(rec *domain.OutboxRecord) (Message, error) {
	evt, err := r.Decode(rec.Payload)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Topic:   r.Topic,
		Key:     evt.AggregateID,
		Type:    rec.MessageType,
		Payload: rec.Payload,
		Headers: map[string]string{
			HeaderEventID:          evt.EventID,
			HeaderOutboxID:         rec.ID,
			HeaderAggregateVersion: strconv.FormatInt(evt.AggregateVersion, 10),
		},
	}, nil
}
