package geohash

import (
	"errors"
	"fmt"
	"math"
)

// ErrTooManyCells is returned by CoveringCells when the box would expand to
// more cells than the caller allows.
var ErrTooManyCells = errors.New("bounding box covers too many cells")

// CoveringCells enumerates, in row-major order from the south-west corner,
// every cell at the given precision that intersects box. A box with MinLon
// greater than MaxLon is treated as crossing the antimeridian. When limit is
// positive and the enumeration would exceed it, ErrTooManyCells is returned
// without allocating the cells.
func CoveringCells(box Box, precision, limit int) ([]string, error) {
	if err := box.Validate(); err != nil {
		return nil, err
	}
	precision = clampPrecision(precision)
	h, w := CellSize(precision)
	latBits, lonBits := bitsFor(precision)
	maxLatIdx := int(math.Exp2(float64(latBits))) - 1
	maxLonIdx := int(math.Exp2(float64(lonBits))) - 1

	lat0 := index(box.MinLat+90, h, maxLatIdx)
	lat1 := index(box.MaxLat+90, h, maxLatIdx)

	type span struct{ from, to int }
	var lonSpans []span
	if box.MinLon <= box.MaxLon {
		lonSpans = []span{{index(box.MinLon+180, w, maxLonIdx), index(box.MaxLon+180, w, maxLonIdx)}}
	} else {
		lonSpans = []span{
			{index(box.MinLon+180, w, maxLonIdx), maxLonIdx},
			{0, index(box.MaxLon+180, w, maxLonIdx)},
		}
	}

	count := 0
	for _, s := range lonSpans {
		count += (lat1 - lat0 + 1) * (s.to - s.from + 1)
	}
	if limit > 0 && count > limit {
		return nil, fmt.Errorf("%w: %d cells at precision %d (limit %d)", ErrTooManyCells, count, precision, limit)
	}

	cells := make([]string, 0, count)
	for i := lat0; i <= lat1; i++ {
		lat := -90 + (float64(i)+0.5)*h
		for _, s := range lonSpans {
			for j := s.from; j <= s.to; j++ {
				lon := -180 + (float64(j)+0.5)*w
				cells = append(cells, Encode(lat, lon, precision))
			}
		}
	}
	return cells, nil
}

// CoarsestCovering walks precision down from the requested value until the
// covering fits within limit. It returns the cells and the precision used.
func CoarsestCovering(box Box, precision, limit int) ([]string, int, error) {
	for p := clampPrecision(precision); p >= 1; p-- {
		cells, err := CoveringCells(box, p, limit)
		if err == nil {
			return cells, p, nil
		}
		if !errors.Is(err, ErrTooManyCells) {
			return nil, 0, err
		}
	}
	cells, err := CoveringCells(box, 1, 0)
	return cells, 1, err
}

func index(offset, size float64, maxIdx int) int {
	i := int(math.Floor(offset / size))
	if i < 0 {
		return 0
	}
	if i > maxIdx {
		return maxIdx
	}
	return i
}

// Ring returns the cells at Chebyshev distance r from cell on the grid of the
// same precision, walking rows from south to north. Ring 0 is the cell itself.
// Longitude wraps across the antimeridian; rows beyond a pole are skipped.
func Ring(cell string, r int) ([]string, error) {
	lat, lon, _, err := Decode(cell)
	if err != nil {
		return nil, err
	}
	if r <= 0 {
		return []string{Encode(lat, lon, len(cell))}, nil
	}

	h, w := CellSize(len(cell))
	seen := make(map[string]struct{}, 8*r)
	var out []string
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if max(abs(dy), abs(dx)) != r {
				continue
			}
			nlat := lat + float64(dy)*h
			if nlat < -90 || nlat > 90 {
				continue
			}
			nlon := wrapLon(lon + float64(dx)*w)
			c := Encode(nlat, nlon, len(cell))
			if c == cell {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}

// Neighbors returns the up to eight cells adjacent to cell.
func Neighbors(cell string) ([]string, error) {
	return Ring(cell, 1)
}

func wrapLon(lon float64) float64 {
	for lon >= 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// zoomSteps maps the highest map zoom level served by each precision.
var zoomSteps = []struct {
	maxZoom   int
	precision int
}{
	{2, 2},
	{4, 3},
	{7, 4},
	{10, 5},
	{13, 6},
	{16, 7},
}

// PrecisionForZoom converts a web-map zoom level into a query precision using
// a monotonic step function, never exceeding ceiling.
func PrecisionForZoom(zoom, ceiling int) int {
	p := 8
	for _, s := range zoomSteps {
		if zoom <= s.maxZoom {
			p = s.precision
			break
		}
	}
	if ceiling > 0 && p > ceiling {
		p = ceiling
	}
	return clampPrecision(p)
}
