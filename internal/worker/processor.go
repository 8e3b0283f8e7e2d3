package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/geohash"
	"github.com/airgrid/airgrid/internal/notifier"
	"github.com/airgrid/airgrid/internal/queue"
	"github.com/airgrid/airgrid/internal/reading"
	"github.com/airgrid/airgrid/internal/store"
)

// Processor runs one queue message through decode, index, detect, persist
// and notify, then settles it. The point write is the durability boundary:
// the message is acked only once it succeeds.
type Processor struct {
	cfg        Config
	store      store.Writer
	detector   *anomaly.Detector
	notifier   notifier.Notifier
	deadLetter queue.DeadLetterer
	metrics    *Metrics
	logger     zerolog.Logger
}

// ProcessorConfig holds the collaborators of a Processor.
type ProcessorConfig struct {
	Config     Config
	Store      store.Writer
	Detector   *anomaly.Detector
	Notifier   notifier.Notifier
	DeadLetter queue.DeadLetterer
	Metrics    *Metrics
	Logger     zerolog.Logger
}

// NewProcessor creates a processor. Notifier may be nil.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Store == nil {
		return nil, errors.New("worker: store is required")
	}
	if cfg.Detector == nil {
		return nil, errors.New("worker: detector is required")
	}
	if cfg.DeadLetter == nil {
		return nil, errors.New("worker: dead-letter sink is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		var err error
		if metrics, err = NewMetrics(); err != nil {
			return nil, err
		}
	}
	return &Processor{
		cfg:        cfg.Config.withDefaults(),
		store:      cfg.Store,
		detector:   cfg.Detector,
		notifier:   cfg.Notifier,
		deadLetter: cfg.DeadLetter,
		metrics:    metrics,
		logger:     cfg.Logger.With().Str("component", "processor").Logger(),
	}, nil
}

// Result describes how one message was handled.
type Result struct {
	Outcome   Outcome
	CellID    string
	Anomalies []anomaly.Anomaly
	Err       error
}

// Handle satisfies queue.Handler.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) {
	p.Process(ctx, msg)
}

// Process handles msg and settles it: persisted and dead-lettered messages
// are acked, store failures are nacked for broker redelivery.
func (p *Processor) Process(ctx context.Context, msg queue.Message) Result {
	start := time.Now()
	logger := p.logger.With().
		Str("message_id", msg.ID()).
		Int("attempt", msg.Attempt()).
		Logger()

	res := p.process(ctx, msg, logger)

	switch res.Outcome {
	case OutcomePersisted, OutcomeDeadLettered:
		msg.Ack()
	default:
		msg.Nack()
	}
	p.metrics.recordMessage(ctx, res.Outcome, time.Since(start))

	event := logger.Debug()
	if res.Outcome != OutcomePersisted {
		event = logger.Warn().Err(res.Err)
	}
	event.
		Str("outcome", string(res.Outcome)).
		Str("cell_id", res.CellID).
		Int("anomalies", len(res.Anomalies)).
		Dur("duration", time.Since(start)).
		Msg("message processed")

	return res
}

func (p *Processor) process(ctx context.Context, msg queue.Message, logger zerolog.Logger) Result {
	r, err := reading.DecodeMessage(msg.Data(), msg.PublishTime())
	if err != nil {
		if dlErr := p.deadLetter.DeadLetter(ctx, msg, err.Error()); dlErr != nil {
			return Result{Outcome: OutcomeDeadLetterFailed, Err: errors.Join(err, dlErr)}
		}
		return Result{Outcome: OutcomeDeadLettered, Err: err}
	}

	cellID := geohash.Encode(r.Latitude, r.Longitude, p.cfg.StoragePrecision)
	found := p.detector.DetectAll(r, cellID)

	writeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	err = p.store.WritePoint(writeCtx, reading.NewStoredPoint(r, cellID))
	cancel()
	if err != nil {
		return Result{Outcome: OutcomeStoreFailed, CellID: cellID, Err: err}
	}

	for _, a := range found {
		p.handleAnomaly(ctx, a, logger)
	}

	return Result{Outcome: OutcomePersisted, CellID: cellID, Anomalies: found}
}

// handleAnomaly persists and fans out a. Failures here are logged and
// counted but never fail the message.
func (p *Processor) handleAnomaly(ctx context.Context, a anomaly.Anomaly, logger zerolog.Logger) {
	logger = logger.With().
		Str("anomaly_id", a.ID).
		Str("parameter", string(a.Parameter)).
		Float64("value", a.Value).
		Str("cell_id", a.CellID).
		Logger()

	writeCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	err := p.store.WriteAnomaly(writeCtx, a)
	cancel()
	p.metrics.recordAnomaly(ctx, string(a.Parameter), err == nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist anomaly")
	} else {
		logger.Info().Msg("anomaly detected")
	}

	if p.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(ctx, p.cfg.NotifyTimeout)
	defer cancel()
	if err := p.notifier.Notify(notifyCtx, a); err != nil {
		p.metrics.recordNotifyFailure(ctx)
		logger.Warn().Err(err).Msg("anomaly notification failed")
	}
}

// Stats returns the processor counters.
func (p *Processor) Stats() Stats {
	return p.metrics.Snapshot()
}
