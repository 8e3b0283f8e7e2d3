package reading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ContentType is the media type of encoded queue messages.
const ContentType = "application/json"

// DecodeError marks a queue payload that can never be processed. Messages
// failing with it are dead-lettered rather than redelivered.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode reading: " + e.Reason + ": " + e.Err.Error()
	}
	return "decode reading: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is, or wraps, a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// wireReading is the stable queue representation. Coordinates are pointers
// so that a missing field is distinguishable from zero.
type wireReading struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Pollutants
}

// Encode serializes a validated reading for the ingestion queue.
func Encode(r Reading) ([]byte, error) {
	ts := r.Timestamp.UTC()
	lat, lon := r.Latitude, r.Longitude
	return json.Marshal(wireReading{
		Latitude:   &lat,
		Longitude:  &lon,
		Timestamp:  &ts,
		Pollutants: r.Pollutants,
	})
}

// DecodeMessage parses a queue payload back into a Reading. Payloads are
// re-checked because the queue may carry messages from other producers. When
// the payload has no timestamp, fallback (usually the broker publish time) is
// used. Every failure is a *DecodeError.
func DecodeMessage(data []byte, fallback time.Time) (Reading, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Reading{}, &DecodeError{Reason: "empty payload"}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var w wireReading
	if err := dec.Decode(&w); err != nil {
		return Reading{}, &DecodeError{Reason: "invalid json", Err: err}
	}

	if w.Latitude == nil || w.Longitude == nil {
		return Reading{}, &DecodeError{Reason: "missing coordinates"}
	}
	if !within(*w.Latitude, 90) || !within(*w.Longitude, 180) {
		return Reading{}, &DecodeError{Reason: fmt.Sprintf("coordinates out of range (%g, %g)", *w.Latitude, *w.Longitude)}
	}
	if w.Pollutants.Empty() {
		return Reading{}, &DecodeError{Reason: "no pollutant data"}
	}
	for _, m := range w.Pollutants.Measurements() {
		if m.Value < 0 || math.IsInf(m.Value, 0) {
			return Reading{}, &DecodeError{Reason: fmt.Sprintf("invalid %s value %g", m.Parameter, m.Value)}
		}
	}

	ts := fallback
	if w.Timestamp != nil && !w.Timestamp.IsZero() {
		ts = *w.Timestamp
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	return Reading{
		Latitude:   *w.Latitude,
		Longitude:  *w.Longitude,
		Timestamp:  ts.UTC(),
		Pollutants: w.Pollutants,
	}, nil
}

func within(v, limit float64) bool {
	return !math.IsNaN(v) && v >= -limit && v <= limit
}
