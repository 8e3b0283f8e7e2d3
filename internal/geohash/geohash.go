// Package geohash maps coordinates to fixed-length base-32 cell identifiers
// and back. Latitude and longitude bits are interleaved (longitude first) so
// that a shorter cell id is always a prefix of a longer one covering the same
// point, and nearby points usually share a prefix.
package geohash

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// MaxPrecision is the longest supported cell id.
const MaxPrecision = 12

const alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// ErrInvalidCell is returned when a cell id contains characters outside the
// geohash alphabet or is empty.
var ErrInvalidCell = errors.New("invalid geohash cell")

// ErrInvalidBox is returned for bounding boxes outside coordinate ranges.
var ErrInvalidBox = errors.New("invalid bounding box")

var decodeTable = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		t[alphabet[i]] = int8(i)
	}
	return t
}()

// Box is a latitude/longitude rectangle. Bounds are inclusive.
type Box struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// Center returns the midpoint of the box.
func (b Box) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// Contains reports whether the point lies inside the box. A box whose MinLon
// is greater than its MaxLon wraps across the antimeridian.
func (b Box) Contains(lat, lon float64) bool {
	if lat < b.MinLat || lat > b.MaxLat {
		return false
	}
	if b.MinLon <= b.MaxLon {
		return lon >= b.MinLon && lon <= b.MaxLon
	}
	return lon >= b.MinLon || lon <= b.MaxLon
}

// Validate checks that the box lies within valid coordinate ranges.
func (b Box) Validate() error {
	switch {
	case !inRange(b.MinLat, -90, 90) || !inRange(b.MaxLat, -90, 90):
		return fmt.Errorf("%w: latitude bounds must be within [-90, 90]", ErrInvalidBox)
	case !inRange(b.MinLon, -180, 180) || !inRange(b.MaxLon, -180, 180):
		return fmt.Errorf("%w: longitude bounds must be within [-180, 180]", ErrInvalidBox)
	case b.MinLat > b.MaxLat:
		return fmt.Errorf("%w: min_lat must not exceed max_lat", ErrInvalidBox)
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

// Encode returns the cell id of the given precision containing the point.
// Precision is clamped to [1, MaxPrecision]; coordinates are clamped to their
// valid ranges so the exact poles and the antimeridian resolve to a single
// canonical cell (the north-/east-most one).
func Encode(lat, lon float64, precision int) string {
	precision = clampPrecision(precision)
	lat = clamp(lat, -90, 90)
	lon = clamp(lon, -180, 180)

	latLo, latHi := -90.0, 90.0
	lonLo, lonHi := -180.0, 180.0

	out := make([]byte, precision)
	even := true
	for i := 0; i < precision; i++ {
		ch := 0
		for bit := 4; bit >= 0; bit-- {
			if even {
				mid := (lonLo + lonHi) / 2
				if lon >= mid {
					ch |= 1 << bit
					lonLo = mid
				} else {
					lonHi = mid
				}
			} else {
				mid := (latLo + latHi) / 2
				if lat >= mid {
					ch |= 1 << bit
					latLo = mid
				} else {
					latHi = mid
				}
			}
			even = !even
		}
		out[i] = alphabet[ch]
	}
	return string(out)
}

// Decode returns the center point and bounding box of a cell.
func Decode(cell string) (lat, lon float64, box Box, err error) {
	box, err = BoundingBox(cell)
	if err != nil {
		return 0, 0, Box{}, err
	}
	lat, lon = box.Center()
	return lat, lon, box, nil
}

// BoundingBox returns the rectangle covered by a cell.
func BoundingBox(cell string) (Box, error) {
	if cell == "" || len(cell) > MaxPrecision {
		return Box{}, fmt.Errorf("%w: %q", ErrInvalidCell, cell)
	}
	cell = strings.ToLower(cell)

	box := Box{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}
	even := true
	for i := 0; i < len(cell); i++ {
		idx := decodeTable[cell[i]]
		if idx < 0 {
			return Box{}, fmt.Errorf("%w: %q", ErrInvalidCell, cell)
		}
		for bit := 4; bit >= 0; bit-- {
			set := int(idx)&(1<<bit) != 0
			if even {
				mid := (box.MinLon + box.MaxLon) / 2
				if set {
					box.MinLon = mid
				} else {
					box.MaxLon = mid
				}
			} else {
				mid := (box.MinLat + box.MaxLat) / 2
				if set {
					box.MinLat = mid
				} else {
					box.MaxLat = mid
				}
			}
			even = !even
		}
	}
	return box, nil
}

// Valid reports whether cell is a well-formed cell id.
func Valid(cell string) bool {
	_, err := BoundingBox(cell)
	return err == nil
}

// CellSize returns the height (degrees latitude) and width (degrees
// longitude) of every cell at the given precision.
func CellSize(precision int) (latHeight, lonWidth float64) {
	latBits, lonBits := bitsFor(clampPrecision(precision))
	return 180 / math.Exp2(float64(latBits)), 360 / math.Exp2(float64(lonBits))
}

func bitsFor(precision int) (latBits, lonBits int) {
	total := precision * 5
	lonBits = (total + 1) / 2
	latBits = total / 2
	return latBits, lonBits
}

func clampPrecision(p int) int {
	if p < 1 {
		return 1
	}
	if p > MaxPrecision {
		return MaxPrecision
	}
	return p
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
