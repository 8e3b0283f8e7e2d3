// Package anomaly flags pollutant values above hazardous thresholds.
package anomaly

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/airgrid/airgrid/internal/reading"
)

// Anomaly is a detected threshold violation for one pollutant in one
// reading.
type Anomaly struct {
	ID          string            `json:"id"`
	Parameter   reading.Parameter `json:"parameter"`
	Value       float64           `json:"value"`
	Threshold   float64           `json:"threshold"`
	Latitude    float64           `json:"latitude"`
	Longitude   float64           `json:"longitude"`
	CellID      string            `json:"cell_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Description string            `json:"description"`
}

// Thresholds maps each pollutant to the value above which it is hazardous.
type Thresholds map[reading.Parameter]float64

// DefaultThresholds returns the documented hazardous threshold table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		reading.PM25: 250.0,
		reading.PM10: 420.0,
		reading.NO2:  200.0,
		reading.SO2:  500.0,
		reading.O3:   240.0,
	}
}

// Validate checks that every recognized pollutant has a positive threshold.
func (t Thresholds) Validate() error {
	for _, p := range reading.Parameters {
		v, ok := t[p]
		if !ok {
			return fmt.Errorf("missing threshold for %s", p)
		}
		if v <= 0 {
			return fmt.Errorf("threshold for %s must be positive, got %g", p, v)
		}
	}
	return nil
}

var displayNames = map[reading.Parameter]string{
	reading.PM25: "PM2.5",
	reading.PM10: "PM10",
	reading.NO2:  "NO2",
	reading.SO2:  "SO2",
	reading.O3:   "O3",
}

// Detector evaluates values against a static threshold table. It keeps no
// history, so a single reading above threshold is enough to trigger.
type Detector struct {
	thresholds Thresholds
	newID      func() string
}

// Option configures a Detector.
type Option func(*Detector)

// WithIDGenerator overrides how anomaly ids are assigned.
func WithIDGenerator(fn func() string) Option {
	return func(d *Detector) { d.newID = fn }
}

// NewDetector creates a detector over a copy of thresholds.
func NewDetector(thresholds Thresholds, opts ...Option) *Detector {
	t := make(Thresholds, len(thresholds))
	for k, v := range thresholds {
		t[k] = v
	}
	d := &Detector{
		thresholds: t,
		newID:      func() string { return "anomaly_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Threshold returns the configured threshold for p.
func (d *Detector) Threshold(p reading.Parameter) (float64, bool) {
	t, ok := d.thresholds[p]
	return t, ok
}

// Detect reports whether value is strictly greater than the threshold for
// param. Values equal to the threshold are not anomalous. The returned
// Anomaly carries an id, the parameter, value, threshold and description;
// location fields are left for the caller.
func (d *Detector) Detect(param reading.Parameter, value float64) (Anomaly, bool) {
	threshold, ok := d.thresholds[param]
	if !ok || !(value > threshold) {
		return Anomaly{}, false
	}
	name := displayNames[param]
	if name == "" {
		name = string(param)
	}
	return Anomaly{
		ID:          d.newID(),
		Parameter:   param,
		Value:       value,
		Threshold:   threshold,
		Description: fmt.Sprintf("%s value %.1f exceeds hazardous threshold (%.1f)", name, value, threshold),
	}, true
}

// DetectAll evaluates every pollutant in r independently and returns one
// Anomaly per parameter above its threshold, in canonical parameter order.
func (d *Detector) DetectAll(r reading.Reading, cellID string) []Anomaly {
	var out []Anomaly
	for _, m := range r.Measurements() {
		a, ok := d.Detect(m.Parameter, m.Value)
		if !ok {
			continue
		}
		a.Latitude = r.Latitude
		a.Longitude = r.Longitude
		a.CellID = cellID
		a.Timestamp = r.Timestamp
		out = append(out, a)
	}
	return out
}
