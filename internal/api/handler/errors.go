package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/aggregation"
	"github.com/airgrid/airgrid/internal/api/middleware"
	"github.com/airgrid/airgrid/internal/api/response"
	"github.com/airgrid/airgrid/internal/geohash"
	"github.com/airgrid/airgrid/internal/intake"
	"github.com/airgrid/airgrid/internal/reading"
	"github.com/airgrid/airgrid/internal/resilience"
	"github.com/airgrid/airgrid/internal/store"
)

// writeError maps service errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	var verr *reading.ValidationError
	switch {
	case errors.As(err, &verr):
		response.InvalidReading(w, r, verr)
	case errors.Is(err, aggregation.ErrInvalidQuery),
		errors.Is(err, geohash.ErrInvalidBox),
		errors.Is(err, geohash.ErrInvalidCell),
		errors.Is(err, geohash.ErrTooManyCells):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, aggregation.ErrNotFound):
		response.NotFound(w, r, "no readings found for this query")
	case errors.Is(err, resilience.ErrCircuitOpen):
		response.ServiceUnavailable(w, r, "storage is temporarily unavailable", 30)
	case errors.Is(err, intake.ErrEnqueue):
		log.Warn().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("ingest unavailable")
		response.ServiceUnavailable(w, r, "reading could not be queued, retry later", 5)
	case store.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("store unavailable")
		response.ServiceUnavailable(w, r, "storage is temporarily unavailable", 5)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful can be written.
	default:
		log.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("request failed")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
