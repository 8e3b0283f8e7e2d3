package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/airgrid/airgrid/internal/geohash"
	"github.com/airgrid/airgrid/internal/reading"
)

// BoxQuery describes a bounding-box scan.
type BoxQuery struct {
	Box       geohash.Box
	Precision int
	// MaxCells caps the covering; precision is reduced until it fits.
	MaxCells int
	From, To time.Time
	// Parallelism bounds concurrent per-cell queries. Zero means 8.
	Parallelism int
}

// BoxResult is the outcome of QueryBoundingBox.
type BoxResult struct {
	Points []reading.StoredPoint
	// Precision is the covering precision actually used.
	Precision int
	Cells     int
}

// QueryBoundingBox enumerates the cells covering q.Box, runs one prefix range
// query per cell concurrently, and keeps only points that fall inside the
// box. Points are returned oldest first.
func QueryBoundingBox(ctx context.Context, r Reader, q BoxQuery) (BoxResult, error) {
	cells, precision, err := geohash.CoarsestCovering(q.Box, q.Precision, q.MaxCells)
	if err != nil {
		return BoxResult{}, fmt.Errorf("cover bounding box: %w", err)
	}

	limit := q.Parallelism
	if limit <= 0 {
		limit = 8
	}

	perCell := make([][]reading.StoredPoint, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, cell := range cells {
		g.Go(func() error {
			pts, err := r.QueryRange(gctx, cell, q.From, q.To)
			if err != nil {
				return err
			}
			perCell[i] = pts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BoxResult{}, err
	}

	var out []reading.StoredPoint
	for _, pts := range perCell {
		for _, p := range pts {
			if q.Box.Contains(p.Latitude, p.Longitude) {
				out = append(out, p)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b reading.StoredPoint) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	return BoxResult{Points: out, Precision: precision, Cells: len(cells)}, nil
}
