package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultNotifierPrefix  = "jobmill:events"
	defaultNotifierTimeout = 5 * time.Second
)

// RedisNotifierConfig configures the Redis pub/sub notification sink.
type RedisNotifierConfig struct {
	URL              string
	ChannelPrefix    string
	OperationTimeout time.Duration
}

func (c *RedisNotifierConfig) normalize() {
	if strings.TrimSpace(c.ChannelPrefix) == "" {
		c.ChannelPrefix = defaultNotifierPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultNotifierTimeout
	}
}

// RedisNotifier publishes job transition events to per-owner Redis channels.
// Subscribers (a WebSocket fan-out, a dashboard) listen on
// "<prefix>:user:<owner>"; the engine only publishes.
type RedisNotifier struct {
	client *redis.Client
	config RedisNotifierConfig
}

// NewRedisNotifier connects a Redis client for event publishing.
func NewRedisNotifier(cfg RedisNotifierConfig) (*RedisNotifier, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis URL is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisNotifier{
		client: client,
		config: cfg,
	}, nil
}

// Notify publishes the event as JSON to the owner's channel.
func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	if event.Job == nil {
		return errors.New("event job is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, n.config.OperationTimeout)
	defer cancel()
	if err := n.client.Publish(opCtx, n.Channel(event.Job.CreatedBy), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Channel returns the pub/sub channel name for an owner.
func (n *RedisNotifier) Channel(owner string) string {
	return n.config.ChannelPrefix + ":user:" + strings.TrimSpace(owner)
}

// Close releases the Redis client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
