package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/geohash"
	"github.com/airgrid/airgrid/internal/reading"
	"github.com/airgrid/airgrid/internal/store"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func point(lat, lon float64, offset time.Duration, pm25 float64) reading.StoredPoint {
	r := reading.Reading{
		Latitude:   lat,
		Longitude:  lon,
		Timestamp:  base.Add(offset),
		Pollutants: reading.Pollutants{PM25: reading.Float(pm25)},
	}
	return reading.NewStoredPoint(r, geohash.Encode(lat, lon, 7))
}

// backends runs fn against every embedded Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := store.OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func TestStore_QueryRangeByPrefix(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		istanbul := point(41.0, 28.9, 0, 10)
		istanbulLater := point(41.0001, 28.9001, time.Minute, 20)
		paris := point(48.8566, 2.3522, 0, 30)
		for _, p := range []reading.StoredPoint{istanbulLater, paris, istanbul} {
			require.NoError(t, s.WritePoint(ctx, p))
		}

		got, err := s.QueryRange(ctx, "sxk9", base.Add(-time.Hour), base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, istanbul.Timestamp, got[0].Timestamp, "oldest first")
		assert.Equal(t, istanbulLater.Timestamp, got[1].Timestamp)
		v, ok := got[1].Get(reading.PM25)
		assert.True(t, ok)
		assert.Equal(t, 20.0, v)
		_, ok = got[1].Get(reading.NO2)
		assert.False(t, ok)

		all, err := s.QueryRange(ctx, "", base.Add(-time.Hour), base.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestStore_QueryRangeBoundsInclusive(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		require.NoError(t, s.WritePoint(ctx, point(41, 28.9, 0, 1)))
		require.NoError(t, s.WritePoint(ctx, point(41, 28.9, 10*time.Minute, 2)))
		require.NoError(t, s.WritePoint(ctx, point(41, 28.9, 20*time.Minute, 3)))

		got, err := s.QueryRange(ctx, "sxk", base, base.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = s.QueryRange(ctx, "sxk", base.Add(21*time.Minute), base.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestStore_DuplicatesAreKept(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		p := point(41, 28.9, 0, 10)
		require.NoError(t, s.WritePoint(ctx, p))
		require.NoError(t, s.WritePoint(ctx, p))

		got, err := s.QueryRange(ctx, p.CellID, base, base)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})
}

func TestStore_Recent(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			require.NoError(t, s.WritePoint(ctx, point(41, 28.9, time.Duration(i)*time.Minute, float64(i))))
		}

		got, err := s.Recent(ctx, 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, base.Add(4*time.Minute), got[0].Timestamp)
		assert.Equal(t, base.Add(2*time.Minute), got[2].Timestamp)
	})
}

func TestStore_Anomalies(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		older := anomaly.Anomaly{ID: "anomaly_a", Parameter: reading.PM25, Value: 300, Threshold: 250, Latitude: 41, Longitude: 28.9, CellID: "sxk91xu", Timestamp: base, Description: "a"}
		newer := older
		newer.ID = "anomaly_b"
		newer.Timestamp = base.Add(time.Hour)

		require.NoError(t, s.WriteAnomaly(ctx, older))
		require.NoError(t, s.WriteAnomaly(ctx, newer))
		require.NoError(t, s.WriteAnomaly(ctx, older), "rewriting an id is a no-op")

		got, err := s.QueryAnomalies(ctx, base.Add(-time.Hour), base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, newer, got[0])
		assert.Equal(t, older, got[1])

		got, err = s.QueryAnomalies(ctx, base.Add(time.Minute), base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}

func TestStore_Ping(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		assert.NoError(t, s.Ping(context.Background()))
	})
}

func TestMemoryStore_CancelledContextIsTransient(t *testing.T) {
	s := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.WritePoint(ctx, point(41, 28.9, 0, 1))
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))
	assert.Equal(t, 0, s.Len())
}
