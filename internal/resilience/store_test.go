package resilience_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/reading"
	"github.com/airgrid/airgrid/internal/resilience"
	"github.com/airgrid/airgrid/internal/store"
)

var errBackend = errors.New("connection refused")

// flakyStore fails the first failFor calls of every method, then delegates
// to an in-memory store.
type flakyStore struct {
	*store.MemoryStore
	failFor int32
	calls   atomic.Int32
	block   bool
}

func (f *flakyStore) fail(ctx context.Context) error {
	n := f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if n <= f.failFor {
		return errBackend
	}
	return nil
}

func (f *flakyStore) WritePoint(ctx context.Context, p reading.StoredPoint) error {
	if err := f.fail(ctx); err != nil {
		return err
	}
	return f.MemoryStore.WritePoint(ctx, p)
}

func (f *flakyStore) QueryRange(ctx context.Context, prefix string, from, to time.Time) ([]reading.StoredPoint, error) {
	if err := f.fail(ctx); err != nil {
		return nil, err
	}
	return f.MemoryStore.QueryRange(ctx, prefix, from, to)
}

func (f *flakyStore) QueryAnomalies(ctx context.Context, from, to time.Time) ([]anomaly.Anomaly, error) {
	if err := f.fail(ctx); err != nil {
		return nil, err
	}
	return f.MemoryStore.QueryAnomalies(ctx, from, to)
}

func lenientBreaker(name string) *resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig(name)
	cfg.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.Requests >= 100 }
	return &cfg
}

func TestStore_ReadRetriesUntilSuccess(t *testing.T) {
	backend := &flakyStore{MemoryStore: store.NewMemoryStore(), failFor: 2}
	s := resilience.NewStore(backend, resilience.StoreConfig{
		Name:            "test-read",
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		CircuitBreaker:  lenientBreaker("test-read"),
		Logger:          zerolog.Nop(),
	})

	_, err := s.QueryRange(context.Background(), "", time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int32(3), backend.calls.Load())
}

func TestStore_ReadGivesUpAfterMaxRetries(t *testing.T) {
	backend := &flakyStore{MemoryStore: store.NewMemoryStore(), failFor: 100}
	s := resilience.NewStore(backend, resilience.StoreConfig{
		Name:            "test-giveup",
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		CircuitBreaker:  lenientBreaker("test-giveup"),
		Logger:          zerolog.Nop(),
	})

	_, err := s.QueryAnomalies(context.Background(), time.Time{}, time.Now())
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, int32(3), backend.calls.Load())
}

func TestStore_WriteIsNotRetried(t *testing.T) {
	backend := &flakyStore{MemoryStore: store.NewMemoryStore(), failFor: 1}
	s := resilience.NewStore(backend, resilience.StoreConfig{
		Name:           "test-write",
		MaxRetries:     5,
		CircuitBreaker: lenientBreaker("test-write"),
		Logger:         zerolog.Nop(),
	})

	err := s.WritePoint(context.Background(), reading.StoredPoint{CellID: "sxk91xu"})
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, int32(1), backend.calls.Load())
	assert.Equal(t, 0, backend.Len())
}

func TestStore_CircuitOpensAndRejects(t *testing.T) {
	backend := &flakyStore{MemoryStore: store.NewMemoryStore(), failFor: 1000}
	cb := resilience.CircuitBreakerConfig{
		Name:        "test-trip",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 3 },
	}
	s := resilience.NewStore(backend, resilience.StoreConfig{
		Name:           "test-trip",
		CircuitBreaker: &cb,
		Logger:         zerolog.Nop(),
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = s.WritePoint(ctx, reading.StoredPoint{})
	}
	assert.Equal(t, gobreaker.StateOpen, s.Health().CircuitState)
	assert.False(t, s.Health().IsHealthy())

	err := s.WritePoint(ctx, reading.StoredPoint{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.True(t, store.IsTransient(err))
	assert.Equal(t, int32(3), backend.calls.Load(), "open breaker must not reach the backend")
}

func TestStore_TimeoutBoundsCall(t *testing.T) {
	backend := &flakyStore{MemoryStore: store.NewMemoryStore(), block: true}
	s := resilience.NewStore(backend, resilience.StoreConfig{
		Name:    "test-timeout",
		Timeout: 20 * time.Millisecond,
		Logger:  zerolog.Nop(),
	})

	start := time.Now()
	err := s.WritePoint(context.Background(), reading.StoredPoint{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStore_PingBypassesBreaker(t *testing.T) {
	s := resilience.NewStore(store.NewMemoryStore(), resilience.StoreConfig{Logger: zerolog.Nop()})
	assert.NoError(t, s.Ping(context.Background()))
	assert.True(t, s.Health().IsHealthy())
	assert.Equal(t, "store", s.Health().Name)
}
