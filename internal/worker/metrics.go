package worker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/airgrid/airgrid/internal/worker"

// Outcome is the terminal state of one message.
type Outcome string

// Message outcomes.
const (
	OutcomePersisted        Outcome = "persisted"
	OutcomeDeadLettered     Outcome = "dead_lettered"
	OutcomeDeadLetterFailed Outcome = "dead_letter_failed"
	OutcomeStoreFailed      Outcome = "store_failed"
)

// Stats is a point-in-time snapshot of the worker counters.
type Stats struct {
	Persisted        int64     `json:"persisted"`
	DeadLettered     int64     `json:"dead_lettered"`
	DeadLetterFailed int64     `json:"dead_letter_failed"`
	StoreFailed      int64     `json:"store_failed"`
	Anomalies        int64     `json:"anomalies"`
	AnomalyFailures  int64     `json:"anomaly_failures"`
	NotifyFailures   int64     `json:"notify_failures"`
	LastProcessedAt  time.Time `json:"last_processed_at,omitempty"`
}

// Metrics records processing outcomes to OpenTelemetry and keeps an
// in-process snapshot for the health endpoint.
type Metrics struct {
	messages        metric.Int64Counter
	anomalies       metric.Int64Counter
	notifyFailures  metric.Int64Counter
	processDuration metric.Float64Histogram

	mu    sync.RWMutex
	stats Stats
}

// NewMetrics creates the worker instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	messages, err := meter.Int64Counter(
		"worker.messages",
		metric.WithDescription("Queue messages processed by outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	anomalies, err := meter.Int64Counter(
		"worker.anomalies",
		metric.WithDescription("Anomalies detected"),
		metric.WithUnit("{anomaly}"),
	)
	if err != nil {
		return nil, err
	}

	notifyFailures, err := meter.Int64Counter(
		"worker.notify_failures",
		metric.WithDescription("Anomalies that could not be handed to the notifier"),
		metric.WithUnit("{anomaly}"),
	)
	if err != nil {
		return nil, err
	}

	processDuration, err := meter.Float64Histogram(
		"worker.process.duration",
		metric.WithDescription("Time to process one queue message in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		messages:        messages,
		anomalies:       anomalies,
		notifyFailures:  notifyFailures,
		processDuration: processDuration,
	}, nil
}

func (m *Metrics) recordMessage(ctx context.Context, outcome Outcome, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	m.messages.Add(ctx, 1, attrs)
	m.processDuration.Record(ctx, duration.Seconds(), attrs)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch outcome {
	case OutcomePersisted:
		m.stats.Persisted++
	case OutcomeDeadLettered:
		m.stats.DeadLettered++
	case OutcomeDeadLetterFailed:
		m.stats.DeadLetterFailed++
	case OutcomeStoreFailed:
		m.stats.StoreFailed++
	}
	m.stats.LastProcessedAt = time.Now().UTC()
}

func (m *Metrics) recordAnomaly(ctx context.Context, parameter string, persisted bool) {
	m.anomalies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("parameter", parameter),
		attribute.Bool("persisted", persisted),
	))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Anomalies++
	if !persisted {
		m.stats.AnomalyFailures++
	}
}

func (m *Metrics) recordNotifyFailure(ctx context.Context) {
	m.notifyFailures.Add(ctx, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.NotifyFailures++
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
