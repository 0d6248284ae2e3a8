package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/mackup/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client the channel uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisChannel stores the latest signal under a key per topic and also
// publishes it on the pub/sub channel of the same name.
type RedisChannel struct {
	client RedisClient
}

// NewRedisChannel creates a Redis-backed channel.
func NewRedisChannel(client RedisClient) *RedisChannel {
	return &RedisChannel{client: client}
}

func statusKey(topic string) string {
	return "mackup:status:" + topic
}

// Publish stores signal as the latest value of topic and broadcasts it.
func (c *RedisChannel) Publish(ctx context.Context, topic string, signal models.StatusSignal) error {
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	if err := c.client.Set(ctx, statusKey(topic), payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to store signal: %w", err)
	}
	if err := c.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to broadcast signal: %w", err)
	}

	return nil
}

// Latest returns the stored signal for topic.
func (c *RedisChannel) Latest(ctx context.Context, topic string) (*models.StatusSignal, error) {
	payload, err := c.client.Get(ctx, statusKey(topic)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSignal
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read signal: %w", err)
	}

	var signal models.StatusSignal
	if err := json.Unmarshal(payload, &signal); err != nil {
		return nil, fmt.Errorf("failed to parse signal: %w", err)
	}
	if err := checkSignal(&signal); err != nil {
		return nil, err
	}
	return &signal, nil
}

// Close closes the underlying client.
func (c *RedisChannel) Close() error {
	return c.client.Close()
}
