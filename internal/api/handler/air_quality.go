package handler

import (
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/aggregation"
	"github.com/airgrid/airgrid/internal/api/models"
	"github.com/airgrid/airgrid/internal/api/response"
	"github.com/airgrid/airgrid/internal/intake"
)

// MaxIngestBody caps the size of one submitted reading.
const MaxIngestBody = 64 << 10

// AirQualityHandler serves ingestion and the read-side queries.
type AirQualityHandler struct {
	intake *intake.Service
	query  *aggregation.Service
	logger zerolog.Logger
}

// NewAirQualityHandler creates an AirQualityHandler.
func NewAirQualityHandler(in *intake.Service, q *aggregation.Service, logger zerolog.Logger) *AirQualityHandler {
	return &AirQualityHandler{
		intake: in,
		query:  q,
		logger: logger.With().Str("component", "air_quality_handler").Logger(),
	}
}

// Ingest handles POST /v1/air_quality/ingest. The reading is validated and
// queued; 202 means accepted for processing, not yet stored.
func (h *AirQualityHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxIngestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.BadRequest(w, r, "request body too large", nil)
			return
		}
		response.BadRequest(w, r, "could not read request body", nil)
		return
	}

	receipt, err := h.intake.Submit(r.Context(), body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.Accepted(w, r, "", models.IngestAccepted{
		Status:    "accepted",
		MessageID: receipt.MessageID,
		Reading:   receipt.Reading,
	})
}

// Heatmap handles GET /v1/air_quality/heatmap_data.
func (h *AirQualityHandler) Heatmap(w http.ResponseWriter, r *http.Request) {
	p := newParams(r)
	q := aggregation.HeatmapQuery{
		Box:       p.box(),
		Zoom:      p.int("zoom", 0),
		Precision: p.int("geohash_precision", 0),
		Parameter: p.parameter("parameter", false),
		Window:    p.duration("window"),
		MaxCells:  p.int("max_cells", 0),
	}
	if !p.ok(w, r) {
		return
	}

	cells, err := h.query.Heatmap(r.Context(), q)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, orEmpty(cells))
}

// Points handles GET /v1/air_quality/points.
func (h *AirQualityHandler) Points(w http.ResponseWriter, r *http.Request) {
	p := newParams(r)
	limit := p.int("limit", aggregation.DefaultRecentLimit)
	precision := p.int("geohash_precision", 0)
	if !p.ok(w, r) {
		return
	}

	pts, err := h.query.RecentPoints(r.Context(), limit, precision)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, orEmpty(pts))
}

// Location handles GET /v1/air_quality/location. A point with no data in
// range is a 404.
func (h *AirQualityHandler) Location(w http.ResponseWriter, r *http.Request) {
	p := newParams(r)
	q := aggregation.NearestQuery{
		Latitude:  p.float("lat"),
		Longitude: p.float("lon"),
		Precision: p.int("geohash_precision", 0),
		Window:    p.duration("window"),
	}
	if !p.ok(w, r) {
		return
	}

	loc, err := h.query.Nearest(r.Context(), q)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, loc)
}

// LocationHistory handles GET /v1/air_quality/location_history/{cell_id}.
func (h *AirQualityHandler) LocationHistory(w http.ResponseWriter, r *http.Request) {
	p := newParams(r)
	q := aggregation.HistoryQuery{
		CellID:    chi.URLParam(r, "cell_id"),
		Parameter: p.parameter("parameter", true),
		Window:    p.duration("window"),
		Bucket:    p.duration("aggregate"),
	}
	if !p.ok(w, r) {
		return
	}

	seq, err := h.query.History(r.Context(), q)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, orEmpty(slices.Collect(seq)))
}

// PollutionDensity handles GET /v1/pollution_density.
func (h *AirQualityHandler) PollutionDensity(w http.ResponseWriter, r *http.Request) {
	p := newParams(r)
	box := p.box()
	window := p.duration("window")
	if !p.ok(w, r) {
		return
	}

	d, err := h.query.Density(r.Context(), box, window)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, d)
}

// Anomalies handles GET /v1/anomalies. Without a range it lists the last
// 24 hours.
func (h *AirQualityHandler) Anomalies(w http.ResponseWriter, r *http.Request) {
	p := newParams(r)
	from := p.time("start_time")
	to := p.time("end_time")
	if !p.ok(w, r) {
		return
	}

	list, err := h.query.Anomalies(r.Context(), from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, orEmpty(list))
}

// orEmpty keeps empty results encoding as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
