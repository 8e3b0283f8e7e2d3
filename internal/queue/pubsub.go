package queue

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/reading"
)

// PubSubConfig holds configuration for the Google Cloud Pub/Sub adapter.
type PubSubConfig struct {
	ProjectID       string
	Topic           string
	Subscription    string
	DeadLetterTopic string

	// Concurrency bounds outstanding messages handed to the handler.
	Concurrency int

	// MaxExtension bounds how long a message's ack deadline is extended
	// while a handler is working on it.
	MaxExtension time.Duration

	Logger zerolog.Logger
}

// PubSub is a Queue backed by Google Cloud Pub/Sub.
type PubSub struct {
	client     *pubsub.Client
	publisher  *pubsub.Publisher
	deadLetter *pubsub.Publisher
	subscriber *pubsub.Subscriber
	cfg        PubSubConfig
	ownsClient bool
}

// NewPubSub creates a Pub/Sub client for cfg.ProjectID and wraps it.
func NewPubSub(ctx context.Context, cfg PubSubConfig) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	q := NewPubSubWithClient(client, cfg)
	q.ownsClient = true
	return q, nil
}

// NewPubSubWithClient wraps an existing client. The caller keeps ownership of
// client.
func NewPubSubWithClient(client *pubsub.Client, cfg PubSubConfig) *PubSub {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.MaxExtension <= 0 {
		cfg.MaxExtension = 10 * time.Minute
	}

	q := &PubSub{
		client: client,
		cfg:    cfg,
	}
	if cfg.Topic != "" {
		q.publisher = client.Publisher(cfg.Topic)
	}
	if cfg.DeadLetterTopic != "" {
		q.deadLetter = client.Publisher(cfg.DeadLetterTopic)
	}
	if cfg.Subscription != "" {
		q.subscriber = client.Subscriber(cfg.Subscription)
		q.subscriber.ReceiveSettings.MaxOutstandingMessages = cfg.Concurrency
		q.subscriber.ReceiveSettings.MaxExtension = cfg.MaxExtension
	}
	return q
}

// Publish sends data to the ingestion topic and waits for the server id.
func (q *PubSub) Publish(ctx context.Context, data []byte) (string, error) {
	if q.publisher == nil {
		return "", fmt.Errorf("pubsub: no topic configured")
	}
	res := q.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": reading.ContentType},
	})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("pubsub publish: %w", err)
	}
	return id, nil
}

// Subscribe receives from the configured subscription until ctx is done.
func (q *PubSub) Subscribe(ctx context.Context, h Handler) error {
	if q.subscriber == nil {
		return fmt.Errorf("pubsub: no subscription configured")
	}

	q.cfg.Logger.Info().
		Str("subscription", q.cfg.Subscription).
		Int("max_outstanding", q.cfg.Concurrency).
		Msg("starting pubsub subscriber")

	err := q.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h(ctx, pubsubMessage{msg})
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

// DeadLetter republishes msg to the dead-letter topic with the reason as an
// attribute. Without a dead-letter topic the message is only logged.
func (q *PubSub) DeadLetter(ctx context.Context, msg Message, reason string) error {
	if q.deadLetter == nil {
		q.cfg.Logger.Warn().
			Str("message_id", msg.ID()).
			Str("reason", reason).
			Msg("no dead-letter topic configured, dropping message")
		return nil
	}

	res := q.deadLetter.Publish(ctx, &pubsub.Message{
		Data: msg.Data(),
		Attributes: map[string]string{
			AttrReason:            reason,
			AttrOriginalMessageID: msg.ID(),
			AttrOriginalPublished: msg.PublishTime().UTC().Format(time.RFC3339Nano),
		},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("pubsub dead-letter publish: %w", err)
	}
	return nil
}

// Close flushes publishers and, when owned, closes the client.
func (q *PubSub) Close() error {
	if q.publisher != nil {
		q.publisher.Stop()
	}
	if q.deadLetter != nil {
		q.deadLetter.Stop()
	}
	if q.ownsClient {
		return q.client.Close()
	}
	return nil
}

type pubsubMessage struct {
	msg *pubsub.Message
}

func (m pubsubMessage) ID() string             { return m.msg.ID }
func (m pubsubMessage) Data() []byte           { return m.msg.Data }
func (m pubsubMessage) PublishTime() time.Time { return m.msg.PublishTime }
func (m pubsubMessage) Ack()                   { m.msg.Ack() }
func (m pubsubMessage) Nack()                  { m.msg.Nack() }

// Attempt uses the server-side delivery counter, which is only populated
// when the subscription has a dead-letter policy.
func (m pubsubMessage) Attempt() int {
	if m.msg.DeliveryAttempt != nil {
		return *m.msg.DeliveryAttempt
	}
	return 1
}
