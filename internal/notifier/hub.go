// Package notifier fans newly detected anomalies out to live listeners.
package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/airgrid/airgrid/internal/anomaly"
)

// ErrNotify marks a failed hand-off to a notification transport. It is never
// fatal to the caller.
var ErrNotify = errors.New("anomaly notification failed")

// Notifier accepts anomalies for fan-out.
type Notifier interface {
	Notify(ctx context.Context, a anomaly.Anomaly) error
}

// Hub broadcasts anomalies to in-process subscribers. Every subscriber has
// its own buffered channel; a full buffer drops the anomaly for that
// subscriber only. Nothing is replayed to late subscribers.
type Hub struct {
	buffer int

	mu   sync.RWMutex
	subs map[chan anomaly.Anomaly]struct{}

	published atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates a hub whose subscribers get buffer slots by default.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[chan anomaly.Anomaly]struct{}),
	}
}

// Subscribe registers a listener. The returned channel is closed once ctx
// ends. A non-positive buffer uses the hub default.
func (h *Hub) Subscribe(ctx context.Context, buffer int) <-chan anomaly.Anomaly {
	if buffer <= 0 {
		buffer = h.buffer
	}
	ch := make(chan anomaly.Anomaly, buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, ch)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers a to every current subscriber without blocking and
// returns how many accepted it.
func (h *Hub) Publish(a anomaly.Anomaly) int {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.subs {
		select {
		case ch <- a:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Notify implements Notifier.
func (h *Hub) Notify(_ context.Context, a anomaly.Anomaly) error {
	h.Publish(a)
	return nil
}

// Subscribers returns the number of registered listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats reports published anomalies and per-subscriber drops.
func (h *Hub) Stats() (published, dropped int64) {
	return h.published.Load(), h.dropped.Load()
}

// Multi notifies every notifier in order and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, a anomaly.Anomaly) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
