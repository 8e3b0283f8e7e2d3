package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/queue"
)

// Pool consumes the ingestion queue with a Processor.
type Pool struct {
	subscriber  queue.Subscriber
	processor   *Processor
	concurrency int
	logger      zerolog.Logger
	running     atomic.Bool
}

// NewPool creates a pool. Parallelism comes from the subscriber, which runs
// concurrency handlers at once.
func NewPool(sub queue.Subscriber, proc *Processor, concurrency int, logger zerolog.Logger) *Pool {
	return &Pool{
		subscriber:  sub,
		processor:   proc,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Run blocks until ctx is cancelled or the subscription fails. In-flight
// messages that have not been acked when ctx ends are redelivered by the
// broker.
func (p *Pool) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("worker pool already running")
	}
	defer p.running.Store(false)

	p.logger.Info().Int("concurrency", p.concurrency).Msg("worker pool started")

	err := p.subscriber.Subscribe(ctx, p.processor.Handle)

	stats := p.processor.Stats()
	p.logger.Info().
		Int64("persisted", stats.Persisted).
		Int64("dead_lettered", stats.DeadLettered).
		Int64("store_failed", stats.StoreFailed).
		Int64("anomalies", stats.Anomalies).
		Msg("worker pool stopped")

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker subscription: %w", err)
	}
	return nil
}

// Running reports whether Run is active.
func (p *Pool) Running() bool {
	return p.running.Load()
}
