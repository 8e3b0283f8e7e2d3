// Package store is the time-series access layer for stored readings and
// anomalies. Readings are append-only and addressed by cell-id prefix and
// timestamp.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/reading"
)

// ErrTransient marks a failure of the persistence backend. Callers on the
// worker path must leave the queue message unacknowledged so the broker
// redelivers it.
var ErrTransient = errors.New("store unavailable")

// IsTransient reports whether err wraps ErrTransient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// Writer appends readings and anomalies.
type Writer interface {
	// WritePoint appends p. Duplicate points are stored as separate rows.
	WritePoint(ctx context.Context, p reading.StoredPoint) error

	// WriteAnomaly persists a. Writing the same anomaly id twice is a no-op.
	WriteAnomaly(ctx context.Context, a anomaly.Anomaly) error
}

// Reader queries stored data. Time bounds are inclusive.
type Reader interface {
	// QueryRange returns points whose cell id starts with prefix and whose
	// timestamp lies in [from, to], oldest first. An empty prefix matches
	// every cell.
	QueryRange(ctx context.Context, prefix string, from, to time.Time) ([]reading.StoredPoint, error)

	// Recent returns up to limit of the newest points, newest first.
	Recent(ctx context.Context, limit int) ([]reading.StoredPoint, error)

	// QueryAnomalies returns anomalies with timestamps in [from, to], newest
	// first.
	QueryAnomalies(ctx context.Context, from, to time.Time) ([]anomaly.Anomaly, error)
}

// Store is a complete backend.
type Store interface {
	Writer
	Reader

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// prefixUpperBound returns the smallest string greater than every geohash
// starting with prefix. '~' sorts after every character of the geohash
// alphabet.
func prefixUpperBound(prefix string) string {
	return prefix + "~"
}
