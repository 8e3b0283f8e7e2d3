package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/reading"
)

// MemoryStore is an in-memory implementation of Store.
// This is intended for testing and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	points    []reading.StoredPoint
	anomalies map[string]anomaly.Anomaly
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		anomalies: make(map[string]anomaly.Anomaly),
	}
}

// WritePoint appends p.
func (s *MemoryStore) WritePoint(ctx context.Context, p reading.StoredPoint) error {
	if err := ctx.Err(); err != nil {
		return transient("write point", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Timestamp = p.Timestamp.UTC()
	s.points = append(s.points, p)
	return nil
}

// WriteAnomaly stores a, ignoring an id that is already present.
func (s *MemoryStore) WriteAnomaly(ctx context.Context, a anomaly.Anomaly) error {
	if err := ctx.Err(); err != nil {
		return transient("write anomaly", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.anomalies[a.ID]; !ok {
		a.Timestamp = a.Timestamp.UTC()
		s.anomalies[a.ID] = a
	}
	return nil
}

// QueryRange returns matching points, oldest first.
func (s *MemoryStore) QueryRange(ctx context.Context, prefix string, from, to time.Time) ([]reading.StoredPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, transient("query range", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []reading.StoredPoint
	for _, p := range s.points {
		if !strings.HasPrefix(p.CellID, prefix) {
			continue
		}
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		out = append(out, p)
	}
	slices.SortStableFunc(out, func(a, b reading.StoredPoint) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out, nil
}

// Recent returns up to limit points, newest first.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]reading.StoredPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, transient("recent", err)
	}
	s.mu.RLock()
	out := slices.Clone(s.points)
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b reading.StoredPoint) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// QueryAnomalies returns anomalies in range, newest first.
func (s *MemoryStore) QueryAnomalies(ctx context.Context, from, to time.Time) ([]anomaly.Anomaly, error) {
	if err := ctx.Err(); err != nil {
		return nil, transient("query anomalies", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []anomaly.Anomaly
	for _, a := range s.anomalies {
		if a.Timestamp.Before(from) || a.Timestamp.After(to) {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b anomaly.Anomaly) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored points.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}
