package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/anomaly"
)

// RedisConfig holds connection settings for the relay.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// ConnectRedis opens a client and verifies it with PING.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisRelay carries anomalies between processes over a Redis pub/sub
// channel. Workers Notify; API processes Run the relay into their Hub.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisRelay creates a relay on channel.
func NewRedisRelay(client *redis.Client, channel string, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "redis_relay").Str("channel", channel).Logger(),
	}
}

// Notify publishes a as JSON on the relay channel.
func (r *RedisRelay) Notify(ctx context.Context, a anomaly.Anomaly) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: encoding anomaly %s: %w", ErrNotify, a.ID, err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: redis publish: %w", ErrNotify, err)
	}
	return nil
}

// Run forwards relayed anomalies into hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.logger.Info().Msg("relaying anomalies from redis")

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var a anomaly.Anomaly
			if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
				r.logger.Warn().Err(err).Msg("discarding malformed relayed anomaly")
				continue
			}
			hub.Publish(a)
		}
	}
}
