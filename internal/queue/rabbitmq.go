package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/reading"
)

// RabbitMQConfig holds configuration for the AMQP 0-9-1 adapter.
type RabbitMQConfig struct {
	URL             string
	Queue           string
	DeadLetterQueue string
	ConsumerTag     string

	// Prefetch caps unacknowledged deliveries per consumer.
	// Default: 10
	Prefetch int

	// Concurrency is the number of handler goroutines.
	// Default: Prefetch
	Concurrency int

	// DialTimeout bounds connection and reconnection attempts.
	// Default: 30 seconds
	DialTimeout time.Duration

	Logger zerolog.Logger
}

// RabbitMQ is a Queue backed by a durable RabbitMQ queue. Messages are
// published persistent through the default exchange.
type RabbitMQ struct {
	cfg RabbitMQConfig

	mu      sync.Mutex
	conn    *amqp.Connection
	pubChan *amqp.Channel
}

// NewRabbitMQ dials the broker, retrying with backoff, and declares the
// ingestion and dead-letter queues.
func NewRabbitMQ(ctx context.Context, cfg RabbitMQConfig) (*RabbitMQ, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.Prefetch
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "airgrid-worker"
	}

	q := &RabbitMQ{cfg: cfg}
	if err := q.connect(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQ) connect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = q.cfg.DialTimeout

	var conn *amqp.Connection
	dial := func() error {
		var err error
		conn, err = amqp.Dial(q.cfg.URL)
		return err
	}
	notify := func(err error, wait time.Duration) {
		q.cfg.Logger.Warn().Err(err).Dur("retry_in", wait).Msg("rabbitmq not reachable")
	}
	if err := backoff.RetryNotify(dial, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("rabbitmq connect failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel open failed: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("rabbitmq confirm mode failed: %w", err)
	}
	if err := q.declare(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	q.mu.Lock()
	q.conn = conn
	q.pubChan = ch
	q.mu.Unlock()
	return nil
}

func (q *RabbitMQ) declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(q.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare failed: %w", err)
	}
	if q.cfg.DeadLetterQueue != "" {
		if _, err := ch.QueueDeclare(q.cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("rabbitmq dead-letter queue declare failed: %w", err)
		}
	}
	return nil
}

// Publish sends data to the ingestion queue as a persistent message.
func (q *RabbitMQ) Publish(ctx context.Context, data []byte) (string, error) {
	id := uuid.NewString()
	err := q.publish(ctx, q.cfg.Queue, amqp.Publishing{
		ContentType:  reading.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         data,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// DeadLetter copies msg to the dead-letter queue with the reason in a header.
func (q *RabbitMQ) DeadLetter(ctx context.Context, msg Message, reason string) error {
	if q.cfg.DeadLetterQueue == "" {
		q.cfg.Logger.Warn().
			Str("message_id", msg.ID()).
			Str("reason", reason).
			Msg("no dead-letter queue configured, dropping message")
		return nil
	}
	return q.publish(ctx, q.cfg.DeadLetterQueue, amqp.Publishing{
		ContentType:  reading.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID(),
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			AttrReason:            reason,
			AttrOriginalMessageID: msg.ID(),
			AttrOriginalPublished: msg.PublishTime().UTC().Format(time.RFC3339Nano),
		},
		Body: msg.Data(),
	})
}

// publish sends p and waits for the broker's publisher confirm. The channel
// lock covers only the send, so confirms for concurrent publishes are
// awaited in parallel.
func (q *RabbitMQ) publish(ctx context.Context, routingKey string, p amqp.Publishing) error {
	q.mu.Lock()
	if q.pubChan == nil || q.pubChan.IsClosed() {
		q.mu.Unlock()
		return errors.New("rabbitmq publish channel closed")
	}
	dc, err := q.pubChan.PublishWithDeferredConfirmWithContext(ctx, "", routingKey, false, false, p)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("rabbitmq publish failed: %w", err)
	}
	if dc == nil {
		return errors.New("rabbitmq publish channel is not in confirm mode")
	}
	return AwaitConfirm(ctx, dc)
}

// Confirmation is a pending publisher confirm.
type Confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// ErrPublishNacked is returned when the broker refuses a published message.
var ErrPublishNacked = errors.New("rabbitmq broker nacked publish")

// AwaitConfirm blocks until the broker acks or nacks c, or ctx ends. Only an
// ack counts as accepted.
func AwaitConfirm(ctx context.Context, c Confirmation) error {
	acked, err := c.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq publish confirm: %w", err)
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}

// Subscribe consumes until ctx is cancelled. A dropped connection is
// re-established with backoff; unacknowledged deliveries from the lost
// session are redelivered by the broker.
func (q *RabbitMQ) Subscribe(ctx context.Context, h Handler) error {
	for {
		err := q.session(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		q.cfg.Logger.Warn().Err(err).Msg("rabbitmq consume session ended, reconnecting")
		if err := q.reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (q *RabbitMQ) reconnect(ctx context.Context) error {
	q.mu.Lock()
	if q.pubChan != nil {
		_ = q.pubChan.Close()
	}
	if q.conn != nil && !q.conn.IsClosed() {
		_ = q.conn.Close()
	}
	q.mu.Unlock()
	return q.connect(ctx)
}

func (q *RabbitMQ) session(ctx context.Context, h Handler) error {
	q.mu.Lock()
	conn := q.conn
	q.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel open failed: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(q.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos setup failed: %w", err)
	}
	deliveries, err := ch.Consume(q.cfg.Queue, q.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume setup failed: %w", err)
	}

	q.cfg.Logger.Info().
		Str("queue", q.cfg.Queue).
		Int("prefetch", q.cfg.Prefetch).
		Int("concurrency", q.cfg.Concurrency).
		Msg("rabbitmq consumer started")

	var (
		wg   sync.WaitGroup
		once sync.Once
	)
	closed := make(chan struct{})
	for i := 0; i < q.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						once.Do(func() { close(closed) })
						return
					}
					h(ctx, NewDelivery(d, q.cfg.Logger))
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
		if err := ch.Cancel(q.cfg.ConsumerTag, false); err != nil {
			q.cfg.Logger.Warn().Err(err).Msg("rabbitmq consumer cancel failed")
		}
		wg.Wait()
		return ctx.Err()
	case <-closed:
		wg.Wait()
		return errors.New("rabbitmq deliveries channel closed unexpectedly")
	}
}

// Close closes the channel and connection.
func (q *RabbitMQ) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var errs []error
	if q.pubChan != nil && !q.pubChan.IsClosed() {
		errs = append(errs, q.pubChan.Close())
	}
	if q.conn != nil && !q.conn.IsClosed() {
		errs = append(errs, q.conn.Close())
	}
	return errors.Join(errs...)
}

// Delivery adapts an amqp.Delivery to Message. Ack and Nack failures are
// logged; the broker redelivers anything it did not see acknowledged.
type Delivery struct {
	d      amqp.Delivery
	logger zerolog.Logger
}

// NewDelivery wraps d.
func NewDelivery(d amqp.Delivery, logger zerolog.Logger) *Delivery {
	return &Delivery{d: d, logger: logger}
}

// ID returns the AMQP message id, or the delivery tag when the publisher set
// none.
func (m *Delivery) ID() string {
	if m.d.MessageId != "" {
		return m.d.MessageId
	}
	return strconv.FormatUint(m.d.DeliveryTag, 10)
}

// Data returns the body.
func (m *Delivery) Data() []byte { return m.d.Body }

// PublishTime returns the publisher timestamp.
func (m *Delivery) PublishTime() time.Time { return m.d.Timestamp }

// Attempt reads the quorum-queue delivery counter when present.
func (m *Delivery) Attempt() int {
	if v, ok := m.d.Headers["x-delivery-count"]; ok {
		switch n := v.(type) {
		case int64:
			return int(n) + 1
		case int32:
			return int(n) + 1
		case int:
			return n + 1
		}
	}
	if m.d.Redelivered {
		return 2
	}
	return 1
}

// Ack acknowledges the delivery.
func (m *Delivery) Ack() {
	if err := m.d.Ack(false); err != nil {
		m.logger.Error().Err(err).Uint64("delivery_tag", m.d.DeliveryTag).Msg("rabbitmq ack failed")
	}
}

// Nack returns the delivery to the queue.
func (m *Delivery) Nack() {
	if err := m.d.Nack(false, true); err != nil {
		m.logger.Error().Err(err).Uint64("delivery_tag", m.d.DeliveryTag).Msg("rabbitmq nack failed")
	}
}
