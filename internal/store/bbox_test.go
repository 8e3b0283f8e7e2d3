package store_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/geohash"
	"github.com/airgrid/airgrid/internal/reading"
	"github.com/airgrid/airgrid/internal/store"
)

func TestQueryBoundingBox_FiltersToBox(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	inside := []reading.StoredPoint{
		point(41.01, 28.91, 0, 10),
		point(41.05, 28.95, time.Minute, 20),
	}
	outside := []reading.StoredPoint{
		point(41.2, 28.9, 0, 99),   // north of the box
		point(48.85, 2.35, 0, 99),  // Paris
		point(41.03, 29.30, 0, 99), // east of the box
	}
	for _, p := range append(inside, outside...) {
		require.NoError(t, s.WritePoint(ctx, p))
	}

	res, err := store.QueryBoundingBox(ctx, s, store.BoxQuery{
		Box:       geohash.Box{MinLat: 41.0, MaxLat: 41.1, MinLon: 28.85, MaxLon: 29.0},
		Precision: 5,
		MaxCells:  1024,
		From:      base.Add(-time.Hour),
		To:        base.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Precision)
	assert.Positive(t, res.Cells)
	require.Len(t, res.Points, 2)
	assert.Equal(t, inside[0].CellID, res.Points[0].CellID)
	assert.Equal(t, inside[1].CellID, res.Points[1].CellID)
}

func TestQueryBoundingBox_ReducesPrecisionToFitCap(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.WritePoint(ctx, point(41.01, 28.91, 0, 10)))

	res, err := store.QueryBoundingBox(ctx, s, store.BoxQuery{
		Box:       geohash.Box{MinLat: 30, MaxLat: 50, MinLon: 20, MaxLon: 40},
		Precision: 7,
		MaxCells:  64,
		From:      base.Add(-time.Hour),
		To:        base.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Less(t, res.Precision, 7)
	assert.LessOrEqual(t, res.Cells, 64)
	assert.Len(t, res.Points, 1)
}

func TestQueryBoundingBox_InvalidBox(t *testing.T) {
	_, err := store.QueryBoundingBox(context.Background(), store.NewMemoryStore(), store.BoxQuery{
		Box:       geohash.Box{MinLat: 10, MaxLat: 5, MinLon: 0, MaxLon: 1},
		Precision: 5,
		MaxCells:  10,
	})
	assert.ErrorIs(t, err, geohash.ErrInvalidBox)
}

type failingReader struct {
	calls atomic.Int32
}

func (f *failingReader) QueryRange(context.Context, string, time.Time, time.Time) ([]reading.StoredPoint, error) {
	f.calls.Add(1)
	return nil, errors.New("boom")
}

func (f *failingReader) Recent(context.Context, int) ([]reading.StoredPoint, error) {
	return nil, nil
}

func (f *failingReader) QueryAnomalies(context.Context, time.Time, time.Time) ([]anomaly.Anomaly, error) {
	return nil, nil
}

func TestQueryBoundingBox_PropagatesCellError(t *testing.T) {
	r := &failingReader{}
	_, err := store.QueryBoundingBox(context.Background(), r, store.BoxQuery{
		Box:       geohash.Box{MinLat: 41.0, MaxLat: 41.1, MinLon: 28.85, MaxLon: 29.0},
		Precision: 5,
		MaxCells:  1024,
		From:      base,
		To:        base,
	})
	assert.EqualError(t, err, "boom")
	assert.Positive(t, r.calls.Load())
}
