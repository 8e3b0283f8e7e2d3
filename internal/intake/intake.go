// Package intake validates submitted readings and enqueues them for the
// processing workers.
package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/queue"
	"github.com/airgrid/airgrid/internal/reading"
)

// ErrEnqueue is returned when a valid reading could not be handed to the
// queue. Callers may retry.
var ErrEnqueue = errors.New("failed to enqueue reading")

// Receipt acknowledges an accepted reading. Accepted means queued, not yet
// persisted.
type Receipt struct {
	MessageID string          `json:"message_id"`
	Reading   reading.Reading `json:"reading"`
}

// Service is the producer side of the pipeline.
type Service struct {
	publisher queue.Publisher
	validator reading.Validator
	logger    zerolog.Logger
}

// NewService creates an intake service publishing to p.
func NewService(p queue.Publisher, v reading.Validator, logger zerolog.Logger) *Service {
	return &Service{
		publisher: p,
		validator: v,
		logger:    logger.With().Str("component", "intake").Logger(),
	}
}

// Submit parses and validates a JSON body and enqueues the reading. Client
// mistakes come back as *reading.ValidationError; broker failures wrap
// ErrEnqueue.
func (s *Service) Submit(ctx context.Context, body []byte) (Receipt, error) {
	raw, err := reading.ParseRaw(body)
	if err != nil {
		return Receipt{}, err
	}
	return s.SubmitRaw(ctx, raw)
}

// SubmitRaw validates and enqueues an already decoded reading.
func (s *Service) SubmitRaw(ctx context.Context, raw reading.Raw) (Receipt, error) {
	r, err := s.validator.Validate(raw)
	if err != nil {
		return Receipt{}, err
	}

	id, err := queue.PublishReading(ctx, s.publisher, r)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to enqueue reading")
		return Receipt{}, fmt.Errorf("%w: %w", ErrEnqueue, err)
	}

	s.logger.Debug().
		Str("message_id", id).
		Float64("latitude", r.Latitude).
		Float64("longitude", r.Longitude).
		Msg("reading enqueued")

	return Receipt{MessageID: id, Reading: r}, nil
}
