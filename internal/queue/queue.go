// Package queue adapts message brokers to the ingestion queue contract:
// at-least-once delivery of encoded readings with explicit ack/nack and a
// dead-letter sink for payloads that can never be processed.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/airgrid/airgrid/internal/reading"
)

// Message is one delivery from the queue. Exactly one of Ack or Nack should
// be called; a nacked or unacknowledged message is redelivered.
type Message interface {
	ID() string
	Data() []byte
	PublishTime() time.Time
	// Attempt is the delivery attempt, starting at 1. Brokers that cannot
	// count report 1 for a first delivery and 2 for any redelivery.
	Attempt() int
	Ack()
	Nack()
}

// Handler processes a message. It owns acknowledging it.
type Handler func(ctx context.Context, msg Message)

// Publisher enqueues raw payloads.
type Publisher interface {
	// Publish returns the broker-assigned message id once the broker has
	// accepted the message.
	Publish(ctx context.Context, data []byte) (string, error)
	Close() error
}

// Subscriber delivers messages to a handler.
type Subscriber interface {
	// Subscribe blocks, invoking h concurrently for each delivery, until ctx
	// is cancelled or the subscription fails. In-flight handlers complete
	// before it returns.
	Subscribe(ctx context.Context, h Handler) error
}

// DeadLetterer parks messages that must not be redelivered.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, msg Message, reason string) error
}

// Queue is a full adapter.
type Queue interface {
	Publisher
	Subscriber
	DeadLetterer
}

// PublishReading encodes r and publishes it.
func PublishReading(ctx context.Context, p Publisher, r reading.Reading) (string, error) {
	data, err := reading.Encode(r)
	if err != nil {
		return "", fmt.Errorf("encode reading: %w", err)
	}
	id, err := p.Publish(ctx, data)
	if err != nil {
		return "", fmt.Errorf("publish reading: %w", err)
	}
	return id, nil
}

// Dead-letter attribute keys shared by the broker adapters.
const (
	AttrReason            = "dead_letter_reason"
	AttrOriginalMessageID = "original_message_id"
	AttrOriginalPublished = "original_publish_time"
)
