package eventpublisher

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iho/eventledger/internal/domain"
)

// Stream entry fields.
const (
	FieldKey     = "key"
	FieldType    = "type"
	FieldPayload = "payload"
)

// RedisStreamPublisher appends messages to Redis Streams, one stream per topic.
type RedisStreamPublisher struct {
	client redis.Cmdable
	prefix string
	maxLen int64
}

// NewRedisStreamPublisher creates a publisher writing to streams named prefix+topic.
// maxLen approximately caps each stream; 0 leaves streams unbounded.
func NewRedisStreamPublisher(client redis.Cmdable, prefix string, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, prefix: prefix, maxLen: maxLen}
}

// StreamName returns the stream a topic is written to.
func (p *RedisStreamPublisher) StreamName(topic string) string {
	return p.prefix + topic
}

// Publish adds msg to its topic stream. Headers become extra entry fields.
func (p *RedisStreamPublisher) Publish(ctx context.Context, msg Message) error {
	values := make(map[string]any, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		values[k] = v
	}
	values[FieldKey] = msg.Key
	values[FieldType] = msg.Type
	values[FieldPayload] = string(msg.Payload)

	args := &redis.XAddArgs{
		Stream: p.StreamName(msg.Topic),
		Values: values,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: xadd %s: %w", domain.ErrMessageBusUnavailable, args.Stream, err)
	}
	return nil
}
