package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

const (
	// streamMaxLen bounds the settlement stream via XADD MAXLEN ~.
	streamMaxLen int64 = 10000
	// subscriberBuffer is the per-subscription channel size.
	subscriberBuffer = 128
	payloadField     = "payload"
)

// SignalBus implements domain.SignalBus. Pub/Sub carries live settlement
// events; a capped stream keeps recent events for replay.
type SignalBus struct {
	c *Client
}

var _ domain.SignalBus = (*SignalBus)(nil)

func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe confirms the subscription before returning, so nothing published
// afterwards is missed. The returned channel closes when ctx is done.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.c.rdb.Subscribe(ctx, sb.c.key(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	in := pubsub.Channel(redis.WithChannelSize(subscriberBuffer))
	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to stream, trimming it to roughly streamMaxLen
// entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: sb.c.key(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: []any{payloadField, payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries strictly after lastID, oldest
// first. An empty lastID or "0" reads from the start of the retained
// history. Entries whose payload is not JSON are skipped.
func (sb *SignalBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	start := "-"
	if lastID != "" && lastID != "0" {
		start = "(" + lastID
	}
	entries, err := sb.c.rdb.XRangeN(ctx, sb.c.key(stream), start, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s after %q: %w", stream, lastID, err)
	}

	out := make([]domain.StreamMessage, 0, len(entries))
	for _, e := range entries {
		raw, ok := e.Values[payloadField].(string)
		if !ok || !json.Valid([]byte(raw)) {
			continue
		}
		out = append(out, domain.StreamMessage{ID: e.ID, Payload: json.RawMessage(raw)})
	}
	return out, nil
}
