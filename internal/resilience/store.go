package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/reading"
	"github.com/airgrid/airgrid/internal/store"
)

// ErrCircuitOpen is returned while the breaker rejects calls. It is always
// wrapped together with store.ErrTransient.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// StoreConfig configures a guarded store.
type StoreConfig struct {
	// Name identifies the breaker.
	Name string

	// Timeout bounds every individual backend call.
	// Default: 5 seconds
	Timeout time.Duration

	// MaxRetries is the number of extra attempts for reads. Writes are never
	// retried here; the queue redelivers them.
	// Default: 0
	MaxRetries uint64

	// InitialInterval is the initial read retry backoff interval.
	// Default: 50ms
	InitialInterval time.Duration

	// MaxInterval is the maximum read retry backoff interval.
	// Default: 2 seconds
	MaxInterval time.Duration

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	Logger zerolog.Logger
}

// Store wraps a store.Store with timeouts, a circuit breaker and read
// retries. It implements store.Store.
type Store struct {
	next    store.Store
	breaker *gobreaker.CircuitBreaker[any]
	config  StoreConfig
}

// NewStore guards next.
func NewStore(next store.Store, cfg StoreConfig) *Store {
	if cfg.Name == "" {
		cfg.Name = "store"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 50 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 2 * time.Second
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	if cbConfig.IsSuccessful == nil {
		// A caller giving up is not a backend failure.
		cbConfig.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}

	return &Store{
		next:    next,
		breaker: NewCircuitBreaker[any](cbConfig, cfg.Logger),
		config:  cfg,
	}
}

// WritePoint appends p through the breaker without retrying.
func (s *Store) WritePoint(ctx context.Context, p reading.StoredPoint) error {
	_, err := s.call(ctx, func(ctx context.Context) (any, error) {
		return nil, s.next.WritePoint(ctx, p)
	})
	return err
}

// WriteAnomaly persists a through the breaker without retrying.
func (s *Store) WriteAnomaly(ctx context.Context, a anomaly.Anomaly) error {
	_, err := s.call(ctx, func(ctx context.Context) (any, error) {
		return nil, s.next.WriteAnomaly(ctx, a)
	})
	return err
}

// QueryRange reads with retries.
func (s *Store) QueryRange(ctx context.Context, prefix string, from, to time.Time) ([]reading.StoredPoint, error) {
	return read(ctx, s, func(ctx context.Context) ([]reading.StoredPoint, error) {
		return s.next.QueryRange(ctx, prefix, from, to)
	})
}

// Recent reads with retries.
func (s *Store) Recent(ctx context.Context, limit int) ([]reading.StoredPoint, error) {
	return read(ctx, s, func(ctx context.Context) ([]reading.StoredPoint, error) {
		return s.next.Recent(ctx, limit)
	})
}

// QueryAnomalies reads with retries.
func (s *Store) QueryAnomalies(ctx context.Context, from, to time.Time) ([]anomaly.Anomaly, error) {
	return read(ctx, s, func(ctx context.Context) ([]anomaly.Anomaly, error) {
		return s.next.QueryAnomalies(ctx, from, to)
	})
}

// Ping bypasses the breaker so readiness reflects the backend itself.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	return s.next.Ping(ctx)
}

// Health reports the breaker state and counts.
func (s *Store) Health() Health {
	return Health{
		Name:         s.config.Name,
		CircuitState: s.breaker.State(),
		Counts:       s.breaker.Counts(),
	}
}

func (s *Store) call(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	v, err := s.breaker.Execute(func() (any, error) {
		return fn(callCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w: %w", s.config.Name, store.ErrTransient, ErrCircuitOpen)
	}
	return v, err
}

func read[T any](ctx context.Context, s *Store, fn func(context.Context) (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.InitialInterval
	bo.MaxInterval = s.config.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by MaxRetries

	var result T
	operation := func() error {
		v, err := s.call(ctx, func(ctx context.Context) (any, error) {
			return fn(ctx)
		})
		if err != nil {
			if errors.Is(err, ErrCircuitOpen) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		result, _ = v.(T)
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, s.config.MaxRetries), ctx))
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Health describes the breaker guarding a store.
type Health struct {
	Name         string
	CircuitState gobreaker.State
	Counts       gobreaker.Counts
}

// IsHealthy returns true if the breaker is closed.
func (h Health) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true if the breaker is half-open.
func (h Health) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}
