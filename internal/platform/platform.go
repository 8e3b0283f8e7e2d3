// Package platform turns a config.Config into running backends. It is the
// only place that knows which driver name maps to which adapter.
package platform

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/config"
	"github.com/airgrid/airgrid/internal/database"
	"github.com/airgrid/airgrid/internal/notifier"
	"github.com/airgrid/airgrid/internal/queue"
	"github.com/airgrid/airgrid/internal/resilience"
	"github.com/airgrid/airgrid/internal/store"
)

// Closer releases a backend. It is never nil.
type Closer func()

func noop() {}

// OpenStore connects the configured store backend and guards it with a
// breaker and read retries.
func OpenStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*resilience.Store, Closer, error) {
	var (
		backend store.Store
		closer  Closer = noop
	)

	switch cfg.Store.Driver {
	case config.StorePostgres:
		pool, err := database.Connect(ctx, cfg.Store.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, pool, logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
		backend = store.NewPostgresStore(pool)
		closer = pool.Close
		logger.Info().
			Str("host", cfg.Store.Database.Host).
			Int("port", cfg.Store.Database.Port).
			Str("database", cfg.Store.Database.Database).
			Msg("postgres store connected")

	case config.StoreSQLite:
		s, err := store.OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		backend = s
		closer = func() {
			if err := s.Close(); err != nil {
				logger.Error().Err(err).Msg("closing sqlite store")
			}
		}
		logger.Info().Str("path", cfg.Store.SQLitePath).Msg("sqlite store opened")

	case config.StoreMemory:
		backend = store.NewMemoryStore()
		logger.Warn().Msg("using in-memory store; data is lost on exit")

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	guarded := resilience.NewStore(backend, resilience.StoreConfig{
		Name:       "store-" + cfg.Store.Driver,
		Timeout:    cfg.Store.Timeout,
		MaxRetries: uint64(max(cfg.Store.ReadRetries, 0)),
		Logger:     logger,
	})
	return guarded, closer, nil
}

// OpenQueue connects the configured broker. concurrency bounds the handlers
// the adapter runs at once when subscribed.
func OpenQueue(ctx context.Context, cfg config.Config, concurrency int, logger zerolog.Logger) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case config.QueuePubSub:
		q, err := queue.NewPubSub(ctx, PubSubConfig(cfg, concurrency, logger))
		if err != nil {
			return nil, err
		}
		logger.Info().
			Str("project", cfg.Queue.PubSub.ProjectID).
			Str("topic", cfg.Queue.PubSub.Topic).
			Msg("pubsub queue connected")
		return q, nil

	case config.QueueRabbitMQ:
		q, err := queue.NewRabbitMQ(ctx, RabbitMQConfig(cfg, concurrency, logger))
		if err != nil {
			return nil, err
		}
		logger.Info().Str("queue", cfg.Queue.RabbitMQ.Queue).Msg("rabbitmq queue connected")
		return q, nil

	case config.QueueMemory:
		return queue.NewMemory(queue.MemoryConfig{Concurrency: concurrency}), nil

	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

// PubSubConfig builds the Pub/Sub adapter settings. The receive timeout
// bounds how long a leased message is held before Pub/Sub redelivers it.
func PubSubConfig(cfg config.Config, concurrency int, logger zerolog.Logger) queue.PubSubConfig {
	return queue.PubSubConfig{
		ProjectID:       cfg.Queue.PubSub.ProjectID,
		Topic:           cfg.Queue.PubSub.Topic,
		Subscription:    cfg.Queue.PubSub.Subscription,
		DeadLetterTopic: cfg.Queue.PubSub.DeadLetterTopic,
		Concurrency:     concurrency,
		MaxExtension:    cfg.Queue.ReceiveTimeout,
		Logger:          logger,
	}
}

// RabbitMQConfig builds the AMQP adapter settings. The receive timeout
// bounds each dial and reconnect.
func RabbitMQConfig(cfg config.Config, concurrency int, logger zerolog.Logger) queue.RabbitMQConfig {
	return queue.RabbitMQConfig{
		URL:             cfg.Queue.RabbitMQ.URL,
		Queue:           cfg.Queue.RabbitMQ.Queue,
		DeadLetterQueue: cfg.Queue.RabbitMQ.DeadLetterQueue,
		Prefetch:        cfg.Queue.RabbitMQ.Prefetch,
		Concurrency:     concurrency,
		DialTimeout:     cfg.Queue.ReceiveTimeout,
		Logger:          logger,
	}
}

// Embedded reports whether the configured queue only exists inside one
// process, in which case the API process must also run the worker pool.
func Embedded(cfg config.Config) bool {
	return cfg.Queue.Driver == config.QueueMemory
}

// OpenRelay connects the Redis anomaly relay. It returns nil when no Redis
// address is configured.
func OpenRelay(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*notifier.RedisRelay, Closer, error) {
	if cfg.Notifier.RedisAddr == "" {
		return nil, noop, nil
	}
	client, err := notifier.ConnectRedis(ctx, notifier.RedisConfig{
		Addr:     cfg.Notifier.RedisAddr,
		Password: cfg.Notifier.RedisPassword,
		DB:       cfg.Notifier.RedisDB,
		Channel:  cfg.Notifier.Channel,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("addr", cfg.Notifier.RedisAddr).Msg("redis relay connected")
	closer := func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("closing redis client")
		}
	}
	return notifier.NewRedisRelay(client, cfg.Notifier.Channel, logger), closer, nil
}
