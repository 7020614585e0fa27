// Package streambus is the durable, at-least-once stream bus aggregates
// publish domain events to after a successful commit. Streams are named
// by (namespace, tenantKey) — e.g. namespace "inventory.movements",
// tenantKey the organization id — and backed by Redis Streams consumer
// groups, which give at-least-once delivery and replay-from-offset for
// free.
package streambus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/config"
)

// Envelope is one published message, stamped with the publishing
// aggregate's key and the event type for consumer-side routing.
type Envelope struct {
	AggregateKey string          `json:"aggregate_key"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	PublishedAt  time.Time       `json:"published_at"`
}

// Delivery is one message handed to a consumer, carrying the identifiers
// needed to acknowledge it.
type Delivery struct {
	StreamKey string
	MessageID string
	Envelope  Envelope
	Attempts  int
}

// Handler processes one delivery. Returning an error leaves the message
// unacknowledged so it is redelivered to another consumer in the group.
type Handler func(ctx context.Context, d Delivery) error

// Bus publishes to and consumes from named Redis Streams.
type Bus struct {
	client *redis.Client
	cfg    config.StreamBusConfig
}

// New connects a Bus to the configured Redis instance.
func New(cfg config.StreamBusConfig) *Bus {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	return &Bus{client: client, cfg: cfg}
}

// NewWithClient wraps an already-constructed client, for tests against a
// miniredis instance or a shared connection pool.
func NewWithClient(client *redis.Client, cfg config.StreamBusConfig) *Bus {
	return &Bus{client: client, cfg: cfg}
}

// streamKey composes the Redis key for one (namespace, tenantKey) stream.
func streamKey(namespace, tenantKey string) string {
	return fmt.Sprintf("stream:%s:%s", namespace, tenantKey)
}

// Publish appends one event to the named stream. Redis Streams retain the
// entry until trimmed, so delivery survives a consumer restart.
func (b *Bus) Publish(ctx context.Context, namespace, tenantKey string, e Envelope) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	key := streamKey(namespace, tenantKey)
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{"body": body},
	}).Err()
	if err != nil {
		return apierr.ErrTransientExternal("streambus", err)
	}
	return nil
}

// EnsureGroup creates the bus's consumer group on the stream if it does
// not already exist. Idempotent.
func (b *Bus) EnsureGroup(ctx context.Context, namespace, tenantKey string) error {
	key := streamKey(namespace, tenantKey)
	err := b.client.XGroupCreateMkStream(ctx, key, b.cfg.ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return apierr.ErrTransientExternal("streambus", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Consume blocks, delivering messages from the named stream's consumer
// group to handler one at a time, until ctx is cancelled. A handler error
// leaves the message pending so a later XClaim can redeliver it.
func (b *Bus) Consume(ctx context.Context, namespace, tenantKey, consumerName string, handler Handler) error {
	if err := b.EnsureGroup(ctx, namespace, tenantKey); err != nil {
		return err
	}
	key := streamKey(namespace, tenantKey)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.ConsumerGroup,
			Consumer: consumerName,
			Streams:  []string{key, ">"},
			Count:    b.cfg.MaxPendingBatch,
			Block:    b.cfg.BlockTimeout,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return apierr.ErrTransientExternal("streambus", err)
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				if err := b.handleOne(ctx, key, msg, handler); err != nil {
					return err
				}
			}
		}
	}
}

func (b *Bus) handleOne(ctx context.Context, key string, msg redis.XMessage, handler Handler) error {
	raw, _ := msg.Values["body"].(string)
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Malformed payloads cannot be retried into success; ack and drop.
		b.client.XAck(ctx, key, b.cfg.ConsumerGroup, msg.ID)
		return nil
	}

	d := Delivery{StreamKey: key, MessageID: msg.ID, Envelope: env}
	if err := handler(ctx, d); err != nil {
		return nil // left unacknowledged, eligible for reclaim
	}
	return b.client.XAck(ctx, key, b.cfg.ConsumerGroup, msg.ID).Err()
}

// ReclaimStale re-delivers messages that have been pending longer than
// cfg.ClaimMinIdle to consumerName, recovering work left behind by a
// crashed consumer.
func (b *Bus) ReclaimStale(ctx context.Context, namespace, tenantKey, consumerName string, handler Handler) error {
	key := streamKey(namespace, tenantKey)
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: key,
		Group:  b.cfg.ConsumerGroup,
		Start:  "-",
		End:    "+",
		Count:  b.cfg.MaxPendingBatch,
		Idle:   b.cfg.ClaimMinIdle,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return apierr.ErrTransientExternal("streambus", err)
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil
	}

	claimed, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   key,
		Group:    b.cfg.ConsumerGroup,
		Consumer: consumerName,
		MinIdle:  b.cfg.ClaimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return apierr.ErrTransientExternal("streambus", err)
	}

	for _, msg := range claimed {
		if err := b.handleOne(ctx, key, msg, handler); err != nil {
			return err
		}
	}
	return nil
}

// PendingCount reports how many messages are outstanding (delivered but
// unacknowledged) on the stream's consumer group.
func (b *Bus) PendingCount(ctx context.Context, namespace, tenantKey string) (int64, error) {
	key := streamKey(namespace, tenantKey)
	info, err := b.client.XPending(ctx, key, b.cfg.ConsumerGroup).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, apierr.ErrTransientExternal("streambus", err)
	}
	return info.Count, nil
}

// Close releases the underlying Redis connection.
func (b *Bus) Close() error {
	return b.client.Close()
}
