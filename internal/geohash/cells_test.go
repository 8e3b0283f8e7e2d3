package geohash_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airgrid/airgrid/internal/geohash"
)

func TestCoveringCells_CoversEveryInteriorPoint(t *testing.T) {
	box := geohash.Box{MinLat: 40.9, MaxLat: 41.2, MinLon: 28.7, MaxLon: 29.2}
	cells, err := geohash.CoveringCells(box, 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, cells)

	set := make(map[string]bool, len(cells))
	for _, c := range cells {
		assert.Len(t, c, 5)
		assert.False(t, set[c], "duplicate cell %s", c)
		set[c] = true
	}

	for lat := box.MinLat; lat <= box.MaxLat; lat += 0.01 {
		for lon := box.MinLon; lon <= box.MaxLon; lon += 0.01 {
			assert.True(t, set[geohash.Encode(lat, lon, 5)], "point %f,%f not covered", lat, lon)
		}
	}
	assert.True(t, set[geohash.Encode(box.MaxLat, box.MaxLon, 5)])
}

func TestCoveringCells_EveryCellIntersectsBox(t *testing.T) {
	box := geohash.Box{MinLat: 51.9, MaxLat: 52.4, MinLon: 4.3, MaxLon: 5.0}
	cells, err := geohash.CoveringCells(box, 4, 0)
	require.NoError(t, err)
	for _, c := range cells {
		cb, err := geohash.BoundingBox(c)
		require.NoError(t, err)
		assert.True(t, cb.MaxLat >= box.MinLat && cb.MinLat <= box.MaxLat, c)
		assert.True(t, cb.MaxLon >= box.MinLon && cb.MinLon <= box.MaxLon, c)
	}
}

func TestCoveringCells_Limit(t *testing.T) {
	box := geohash.Box{MinLat: -60, MaxLat: 60, MinLon: -120, MaxLon: 120}
	_, err := geohash.CoveringCells(box, 6, 100)
	assert.ErrorIs(t, err, geohash.ErrTooManyCells)

	cells, p, err := geohash.CoarsestCovering(box, 6, 100)
	require.NoError(t, err)
	assert.Less(t, p, 6)
	assert.LessOrEqual(t, len(cells), 100)
}

func TestCoveringCells_Antimeridian(t *testing.T) {
	box := geohash.Box{MinLat: -1, MaxLat: 1, MinLon: 179, MaxLon: -179}
	cells, err := geohash.CoveringCells(box, 3, 0)
	require.NoError(t, err)

	set := make(map[string]bool)
	for _, c := range cells {
		set[c] = true
	}
	assert.True(t, set[geohash.Encode(0, 179.5, 3)])
	assert.True(t, set[geohash.Encode(0, -179.5, 3)])
	assert.False(t, set[geohash.Encode(0, 0, 3)])
}

func TestCoveringCells_InvalidBox(t *testing.T) {
	_, err := geohash.CoveringCells(geohash.Box{MinLat: 10, MaxLat: 5, MinLon: 0, MaxLon: 1}, 4, 0)
	assert.Error(t, err)
	_, err = geohash.CoveringCells(geohash.Box{MinLat: 0, MaxLat: 95, MinLon: 0, MaxLon: 1}, 4, 0)
	assert.Error(t, err)
}

func TestNeighbors(t *testing.T) {
	cell := geohash.Encode(41.0, 28.9, 6)
	neighbors, err := geohash.Neighbors(cell)
	require.NoError(t, err)
	assert.Len(t, neighbors, 8)
	assert.NotContains(t, neighbors, cell)

	_, _, box, err := geohash.Decode(cell)
	require.NoError(t, err)
	h, w := geohash.CellSize(6)
	lat, lon := box.Center()
	assert.Contains(t, neighbors, geohash.Encode(lat+h, lon, 6))
	assert.Contains(t, neighbors, geohash.Encode(lat, lon-w, 6))
}

func TestRing(t *testing.T) {
	cell := geohash.Encode(41.0, 28.9, 6)

	zero, err := geohash.Ring(cell, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{cell}, zero)

	two, err := geohash.Ring(cell, 2)
	require.NoError(t, err)
	assert.Len(t, two, 16)

	one, err := geohash.Ring(cell, 1)
	require.NoError(t, err)
	for _, c := range one {
		assert.NotContains(t, two, c)
	}
}

func TestRing_AtPole(t *testing.T) {
	cell := geohash.Encode(90, 0, 3)
	ring, err := geohash.Ring(cell, 1)
	require.NoError(t, err)
	assert.Len(t, ring, 5)
}

func TestPrecisionForZoom_Monotonic(t *testing.T) {
	prev := 0
	for zoom := 0; zoom <= 22; zoom++ {
		p := geohash.PrecisionForZoom(zoom, 0)
		assert.GreaterOrEqual(t, p, prev, "zoom %d", zoom)
		prev = p
	}
	assert.Equal(t, 2, geohash.PrecisionForZoom(1, 0))
	assert.Equal(t, 5, geohash.PrecisionForZoom(10, 0))
	assert.Equal(t, 8, geohash.PrecisionForZoom(20, 0))
	assert.Equal(t, 6, geohash.PrecisionForZoom(20, 6))
}
