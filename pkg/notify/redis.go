// Package notify publishes evaluated signals to external consumers. Delivery
// is best-effort: a failed publish is logged and never affects ingestion or
// the stored observation.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/observer/pkg/signal"
)

// Publisher pushes a signal batch somewhere a dashboard can see it.
type Publisher interface {
	PublishSignals(ctx context.Context, signals []signal.Signal) error
}

// RedisPublisher publishes signal batches as JSON on a Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher creates a publisher for addr and channel.
func NewRedisPublisher(addr, channel string) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisPublisher{
		client:  rdb,
		channel: channel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// PublishSignals sends the batch on the configured channel. An empty batch is
// skipped.
func (p *RedisPublisher) PublishSignals(ctx context.Context, signals []signal.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string]any{
		"published_at": time.Now().UTC().Format(time.RFC3339Nano),
		"signals":      signals,
	})
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish signals: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
