// Package aggregation answers read-side queries over stored points: heatmap
// cells, regional density, nearest-location lookups and per-cell history.
// Aggregates are computed on demand and never persisted.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/golang/geo/s2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/geohash"
	"github.com/airgrid/airgrid/internal/reading"
	"github.com/airgrid/airgrid/internal/store"
)

var (
	// ErrNotFound is returned by Nearest when no cell within the search
	// radius has data. It is a normal outcome.
	ErrNotFound = errors.New("no data found")

	// ErrInvalidQuery wraps caller mistakes such as a malformed box or an
	// unknown parameter.
	ErrInvalidQuery = errors.New("invalid query")
)

const earthRadiusMeters = 6371008.8

// Recent point limits.
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// Config tunes the query layer.
type Config struct {
	StoragePrecision int
	QueryPrecision   int
	MaxQueryCells    int
	NearestMaxRings  int
	// Parallelism bounds concurrent per-cell store queries.
	Parallelism int
	// DefaultWindow applies when a query leaves its window unset.
	DefaultWindow time.Duration
	// AnomalyWindow is the look-back used when an anomaly listing has no
	// range.
	AnomalyWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.StoragePrecision <= 0 {
		c.StoragePrecision = 7
	}
	if c.QueryPrecision <= 0 || c.QueryPrecision > c.StoragePrecision {
		c.QueryPrecision = min(5, c.StoragePrecision)
	}
	if c.MaxQueryCells <= 0 {
		c.MaxQueryCells = 1024
	}
	if c.NearestMaxRings < 0 {
		c.NearestMaxRings = 0
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 8
	}
	if c.DefaultWindow <= 0 {
		c.DefaultWindow = time.Hour
	}
	if c.AnomalyWindow <= 0 {
		c.AnomalyWindow = 24 * time.Hour
	}
	return c
}

// Service runs aggregation queries against a store.Reader.
type Service struct {
	reader store.Reader
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used to resolve windows.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a query service.
func NewService(r store.Reader, cfg Config, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		reader: r,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "aggregation").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// window resolves a look-back duration into an inclusive [from, to] range.
func (s *Service) window(d time.Duration) (time.Time, time.Time) {
	if d <= 0 {
		d = s.cfg.DefaultWindow
	}
	to := s.now().UTC()
	return to.Add(-d), to
}

func (s *Service) clampPrecision(p int) int {
	if p <= 0 {
		return s.cfg.QueryPrecision
	}
	return min(p, s.cfg.StoragePrecision)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

func checkParameter(p reading.Parameter, required bool) error {
	if p == "" {
		if required {
			return invalid("parameter is required")
		}
		return nil
	}
	if _, ok := reading.ParseParameter(string(p)); !ok {
		return invalid("unknown parameter %q", p)
	}
	return nil
}

// cellKey groups a point at precision. Stored cell ids are at storage
// precision, so a coarser cell is a prefix of the stored one.
func cellKey(p reading.StoredPoint, precision int) string {
	if len(p.CellID) >= precision {
		return p.CellID[:precision]
	}
	return geohash.Encode(p.Latitude, p.Longitude, precision)
}

// AggregatedCell is one heatmap cell.
type AggregatedCell struct {
	CellID    string             `json:"cell_id"`
	Latitude  float64            `json:"latitude"`
	Longitude float64            `json:"longitude"`
	Parameter reading.Parameter  `json:"parameter,omitempty"`
	Value     *float64           `json:"value,omitempty"`
	Averages  reading.Pollutants `json:"averages"`
	Count     int                `json:"count"`
	From      time.Time          `json:"from"`
	To        time.Time          `json:"to"`
}

// HeatmapQuery selects the points grouped by Heatmap.
type HeatmapQuery struct {
	Box geohash.Box
	// Zoom picks the grouping precision through geohash.PrecisionForZoom.
	// Precision, when positive, takes priority.
	Zoom      int
	Precision int
	// Parameter restricts cells and counts to readings that carry it.
	Parameter reading.Parameter
	Window    time.Duration
	// MaxCells, when positive, keeps only the densest cells.
	MaxCells int
}

// Heatmap groups the points inside q.Box into query-precision cells and
// averages them. Cells without contributing points are omitted. Results are
// ordered by cell id.
func (s *Service) Heatmap(ctx context.Context, q HeatmapQuery) ([]AggregatedCell, error) {
	if err := q.Box.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if err := checkParameter(q.Parameter, false); err != nil {
		return nil, err
	}

	precision := q.Precision
	if precision <= 0 && q.Zoom > 0 {
		precision = geohash.PrecisionForZoom(q.Zoom, s.cfg.StoragePrecision)
	}
	precision = s.clampPrecision(precision)
	from, to := s.window(q.Window)

	res, err := store.QueryBoundingBox(ctx, s.reader, store.BoxQuery{
		Box:         q.Box,
		Precision:   precision,
		MaxCells:    s.cfg.MaxQueryCells,
		From:        from,
		To:          to,
		Parallelism: s.cfg.Parallelism,
	})
	if err != nil {
		return nil, err
	}

	groups := make(map[string]*accumulator)
	for _, p := range res.Points {
		key := cellKey(p, precision)
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{}
			groups[key] = acc
		}
		acc.add(p)
	}

	cells := make([]AggregatedCell, 0, len(groups))
	for id, acc := range groups {
		n := acc.count(q.Parameter)
		if n == 0 {
			continue
		}
		lat, lon, _, err := geohash.Decode(id)
		if err != nil {
			return nil, err
		}
		cell := AggregatedCell{
			CellID:    id,
			Latitude:  lat,
			Longitude: lon,
			Parameter: q.Parameter,
			Averages:  acc.averages(),
			Count:     n,
			From:      from,
			To:        to,
		}
		if v, ok := acc.average(q.Parameter); ok {
			cell.Value = &v
		}
		cells = append(cells, cell)
	}

	if q.MaxCells > 0 && len(cells) > q.MaxCells {
		slices.SortFunc(cells, func(a, b AggregatedCell) int {
			if a.Count != b.Count {
				return b.Count - a.Count
			}
			return strings.Compare(a.CellID, b.CellID)
		})
		cells = cells[:q.MaxCells]
	}
	slices.SortFunc(cells, func(a, b AggregatedCell) int {
		return strings.Compare(a.CellID, b.CellID)
	})

	s.logger.Debug().
		Int("precision", precision).
		Int("covering_precision", res.Precision).
		Int("covering_cells", res.Cells).
		Int("points", len(res.Points)).
		Int("cells", len(cells)).
		Msg("heatmap computed")

	return cells, nil
}

// Density is a single aggregate over a whole bounding box.
type Density struct {
	Box      geohash.Box        `json:"box"`
	Count    int                `json:"count"`
	Averages reading.Pollutants `json:"average_values"`
	From     time.Time          `json:"from"`
	To       time.Time          `json:"to"`
}

// Density averages every parameter over all points inside box. An empty box
// yields a zero count, not an error.
func (s *Service) Density(ctx context.Context, box geohash.Box, window time.Duration) (Density, error) {
	if err := box.Validate(); err != nil {
		return Density{}, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	from, to := s.window(window)

	res, err := store.QueryBoundingBox(ctx, s.reader, store.BoxQuery{
		Box:         box,
		Precision:   s.cfg.QueryPrecision,
		MaxCells:    s.cfg.MaxQueryCells,
		From:        from,
		To:          to,
		Parallelism: s.cfg.Parallelism,
	})
	if err != nil {
		return Density{}, err
	}

	var acc accumulator
	for _, p := range res.Points {
		acc.add(p)
	}
	return Density{
		Box:      box,
		Count:    acc.total,
		Averages: acc.averages(),
		From:     from,
		To:       to,
	}, nil
}

// NearestQuery locates the closest cell with data around a point.
type NearestQuery struct {
	Latitude  float64
	Longitude float64
	Precision int
	Window    time.Duration
}

// Location is the aggregate of the nearest non-empty cell.
type Location struct {
	CellID    string             `json:"cell_id"`
	Latitude  float64            `json:"latitude"`
	Longitude float64            `json:"longitude"`
	Averages  reading.Pollutants `json:"averages"`
	Count     int                `json:"count"`
	LatestAt  time.Time          `json:"latest_at"`
	Latest    reading.Pollutants `json:"latest"`
	// DistanceMeters is the great-circle distance from the query point to
	// the closest reading in the cell.
	DistanceMeters float64 `json:"distance_meters"`
	// Ring is the Chebyshev ring the cell was found in; 0 is the query cell.
	Ring int `json:"ring"`
}

// Nearest searches the query cell, then rings of neighbouring cells at the
// same precision out to NearestMaxRings. Within the first ring holding data,
// the cell with the reading closest to the query point wins. ErrNotFound is
// returned when every ring is empty.
func (s *Service) Nearest(ctx context.Context, q NearestQuery) (Location, error) {
	if math.IsNaN(q.Latitude) || q.Latitude < -90 || q.Latitude > 90 ||
		math.IsNaN(q.Longitude) || q.Longitude < -180 || q.Longitude > 180 {
		return Location{}, invalid("coordinates out of range (%g, %g)", q.Latitude, q.Longitude)
	}
	precision := s.clampPrecision(q.Precision)
	from, to := s.window(q.Window)
	origin := s2.LatLngFromDegrees(q.Latitude, q.Longitude)
	center := geohash.Encode(q.Latitude, q.Longitude, precision)

	for r := 0; r <= s.cfg.NearestMaxRings; r++ {
		cells, err := geohash.Ring(center, r)
		if err != nil {
			return Location{}, err
		}

		perCell := make([][]reading.StoredPoint, len(cells))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Parallelism)
		for i, cell := range cells {
			g.Go(func() error {
				pts, err := s.reader.QueryRange(gctx, cell, from, to)
				perCell[i] = pts
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return Location{}, err
		}

		best, bestDist := -1, math.Inf(1)
		for i, pts := range perCell {
			for _, p := range pts {
				d := origin.Distance(s2.LatLngFromDegrees(p.Latitude, p.Longitude)).Radians() * earthRadiusMeters
				if d < bestDist || (d == bestDist && cells[i] < cells[best]) {
					best, bestDist = i, d
				}
			}
		}
		if best < 0 {
			continue
		}

		pts := perCell[best]
		var acc accumulator
		for _, p := range pts {
			acc.add(p)
		}
		lat, lon, _, err := geohash.Decode(cells[best])
		if err != nil {
			return Location{}, err
		}
		latest := pts[len(pts)-1]
		return Location{
			CellID:         cells[best],
			Latitude:       lat,
			Longitude:      lon,
			Averages:       acc.averages(),
			Count:          acc.total,
			LatestAt:       latest.Timestamp,
			Latest:         latest.Pollutants,
			DistanceMeters: bestDist,
			Ring:           r,
		}, nil
	}
	return Location{}, ErrNotFound
}

// HistoryQuery selects one parameter of one cell over a window.
type HistoryQuery struct {
	CellID    string
	Parameter reading.Parameter
	Window    time.Duration
	// Bucket is the averaging interval. Buckets are aligned to multiples of
	// Bucket since the zero time, which for whole hours and days is UTC
	// aligned. Default: 1 hour
	Bucket time.Duration
}

// HistoryPoint is the average of one bucket.
type HistoryPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Count     int       `json:"count"`
}

// History reads the cell once and returns a lazy sequence of bucket
// averages in time order. Empty buckets are skipped. The sequence may be
// ranged over any number of times.
func (s *Service) History(ctx context.Context, q HistoryQuery) (iter.Seq[HistoryPoint], error) {
	// Stored ids are lower case; Decode accepts either.
	q.CellID = strings.ToLower(q.CellID)
	if !geohash.Valid(q.CellID) {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidQuery, geohash.ErrInvalidCell, q.CellID)
	}
	if err := checkParameter(q.Parameter, true); err != nil {
		return nil, err
	}
	bucket := q.Bucket
	if bucket <= 0 {
		bucket = time.Hour
	}
	from, to := s.window(q.Window)

	pts, err := s.reader.QueryRange(ctx, q.CellID, from, to)
	if err != nil {
		return nil, err
	}

	return func(yield func(HistoryPoint) bool) {
		var (
			cur  HistoryPoint
			sum  float64
			open bool
		)
		for _, p := range pts {
			v, ok := p.Get(q.Parameter)
			if !ok {
				continue
			}
			start := p.Timestamp.Truncate(bucket)
			if open && !start.Equal(cur.Timestamp) {
				cur.Value = sum / float64(cur.Count)
				if !yield(cur) {
					return
				}
				open = false
			}
			if !open {
				cur = HistoryPoint{Timestamp: start}
				sum = 0
				open = true
			}
			sum += v
			cur.Count++
		}
		if open {
			cur.Value = sum / float64(cur.Count)
			yield(cur)
		}
	}, nil
}

// RecentPoints returns the newest stored points. limit is clamped to
// 1..MaxRecentLimit, with DefaultRecentLimit for zero. A positive precision
// shorter than the stored ids reports each point's cell at that precision.
func (s *Service) RecentPoints(ctx context.Context, limit, precision int) ([]reading.StoredPoint, error) {
	switch {
	case limit <= 0:
		limit = DefaultRecentLimit
	case limit > MaxRecentLimit:
		limit = MaxRecentLimit
	}
	pts, err := s.reader.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if precision > 0 {
		for i := range pts {
			if len(pts[i].CellID) > precision {
				pts[i].CellID = pts[i].CellID[:precision]
			}
		}
	}
	return pts, nil
}

// Anomalies lists anomalies between from and to, newest first. A zero from
// defaults to AnomalyWindow before to; a zero to defaults to now.
func (s *Service) Anomalies(ctx context.Context, from, to time.Time) ([]anomaly.Anomaly, error) {
	if to.IsZero() {
		to = s.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-s.cfg.AnomalyWindow)
	}
	if from.After(to) {
		return nil, invalid("start_time must not be after end_time")
	}
	out, err := s.reader.QueryAnomalies(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []anomaly.Anomaly{}
	}
	return out, nil
}
