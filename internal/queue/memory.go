package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned when publishing to a closed in-memory queue.
var ErrClosed = errors.New("queue closed")

// DeadLetter is a message parked by the in-memory queue.
type DeadLetter struct {
	ID     string
	Data   []byte
	Reason string
}

// MemoryConfig configures the in-memory queue.
type MemoryConfig struct {
	// Capacity is the buffer size. Default: 1024
	Capacity int
	// Concurrency is the number of handler goroutines. Default: 1
	Concurrency int
	// RedeliveryDelay is how long a nacked message waits before redelivery.
	// Default: 10ms
	RedeliveryDelay time.Duration
}

// Memory is an in-process queue with at-least-once semantics. It is intended
// for tests and single-process local runs.
type Memory struct {
	cfg    MemoryConfig
	ch     chan *memoryMessage
	done   chan struct{}
	closed atomic.Bool
	nextID atomic.Int64

	acked  atomic.Int64
	nacked atomic.Int64

	mu          sync.Mutex
	deadLetters []DeadLetter
}

// NewMemory creates an in-memory queue.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = 10 * time.Millisecond
	}
	return &Memory{
		cfg:  cfg,
		ch:   make(chan *memoryMessage, cfg.Capacity),
		done: make(chan struct{}),
	}
}

// Publish enqueues data, blocking while the buffer is full.
func (m *Memory) Publish(ctx context.Context, data []byte) (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	msg := &memoryMessage{
		queue:     m,
		id:        strconv.FormatInt(m.nextID.Add(1), 10),
		data:      append([]byte(nil), data...),
		published: time.Now().UTC(),
		attempt:   1,
	}
	select {
	case m.ch <- msg:
		return msg.id, nil
	case <-m.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Subscribe runs Concurrency handler goroutines until ctx is cancelled or the
// queue is closed.
func (m *Memory) Subscribe(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-m.done:
					return
				case msg := <-m.ch:
					h(ctx, msg)
					msg.settle()
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// DeadLetter records msg as parked.
func (m *Memory) DeadLetter(_ context.Context, msg Message, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters = append(m.deadLetters, DeadLetter{
		ID:     msg.ID(),
		Data:   append([]byte(nil), msg.Data()...),
		Reason: reason,
	})
	return nil
}

// DeadLetters returns a copy of the parked messages.
func (m *Memory) DeadLetters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetter(nil), m.deadLetters...)
}

// Acked returns the number of acknowledged deliveries.
func (m *Memory) Acked() int64 { return m.acked.Load() }

// Nacked returns the number of negatively acknowledged deliveries.
func (m *Memory) Nacked() int64 { return m.nacked.Load() }

// Pending returns the number of buffered messages.
func (m *Memory) Pending() int { return len(m.ch) }

// Close stops subscribers and rejects further publishes.
func (m *Memory) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		close(m.done)
	}
	return nil
}

func (m *Memory) redeliver(msg *memoryMessage) {
	next := &memoryMessage{
		queue:     m,
		id:        msg.id,
		data:      msg.data,
		published: msg.published,
		attempt:   msg.attempt + 1,
	}
	time.AfterFunc(m.cfg.RedeliveryDelay, func() {
		select {
		case m.ch <- next:
		case <-m.done:
		}
	})
}

const (
	statePending int32 = iota
	stateAcked
	stateNacked
)

type memoryMessage struct {
	queue     *Memory
	id        string
	data      []byte
	published time.Time
	attempt   int
	state     atomic.Int32
}

func (m *memoryMessage) ID() string             { return m.id }
func (m *memoryMessage) Data() []byte           { return m.data }
func (m *memoryMessage) PublishTime() time.Time { return m.published }
func (m *memoryMessage) Attempt() int           { return m.attempt }

func (m *memoryMessage) Ack() {
	if m.state.CompareAndSwap(statePending, stateAcked) {
		m.queue.acked.Add(1)
	}
}

func (m *memoryMessage) Nack() {
	if m.state.CompareAndSwap(statePending, stateNacked) {
		m.queue.nacked.Add(1)
		m.queue.redeliver(m)
	}
}

// settle treats a message the handler neither acked nor nacked as nacked.
func (m *memoryMessage) settle() {
	m.Nack()
}
