package reading

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ErrorKind classifies a validation failure.
type ErrorKind string

const (
	KindMalformedPayload   ErrorKind = "malformed_payload"
	KindInvalidCoordinates ErrorKind = "invalid_coordinates"
	KindNoPollutantData    ErrorKind = "no_pollutant_data"
	KindInvalidValue       ErrorKind = "invalid_value"
)

// ValidationError is returned when a submitted reading is rejected. It is
// caused by the client and never retried.
type ValidationError struct {
	Kind    ErrorKind
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
}

// Is matches another *ValidationError of the same kind, so callers can test
// errors.Is(err, &ValidationError{Kind: KindNoPollutantData}).
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

// Raw is an untyped reading as submitted by a client.
type Raw map[string]any

// ParseRaw decodes a JSON object into a Raw reading, keeping numbers exact.
func ParseRaw(data []byte) (Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw Raw
	if err := dec.Decode(&raw); err != nil {
		return nil, &ValidationError{Kind: KindMalformedPayload, Message: err.Error()}
	}
	if raw == nil {
		return nil, &ValidationError{Kind: KindMalformedPayload, Message: "body must be a JSON object"}
	}
	return raw, nil
}

// Validator checks raw readings. The zero value stamps readings with
// time.Now.
type Validator struct {
	// Now supplies the ingestion time for readings submitted without a
	// timestamp.
	Now func() time.Time
}

// Validate converts raw into a Reading or returns a *ValidationError.
// Coordinates are checked first, then every present pollutant, then that at
// least one recognized pollutant is present.
func (v Validator) Validate(raw Raw) (Reading, error) {
	lat, err := coordinate(raw, "latitude", 90)
	if err != nil {
		return Reading{}, err
	}
	lon, err := coordinate(raw, "longitude", 180)
	if err != nil {
		return Reading{}, err
	}

	var p Pollutants
	for _, param := range Parameters {
		val, present := raw[string(param)]
		if !present || val == nil {
			continue
		}
		f, ok := number(val)
		if !ok {
			return Reading{}, &ValidationError{Kind: KindInvalidValue, Field: string(param), Message: "must be numeric"}
		}
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return Reading{}, &ValidationError{Kind: KindInvalidValue, Field: string(param), Message: "must be a non-negative finite number"}
		}
		p = p.With(param, f)
	}
	if p.Empty() {
		return Reading{}, &ValidationError{Kind: KindNoPollutantData, Message: "at least one of pm25, pm10, no2, so2, o3 is required"}
	}

	ts, err := v.timestamp(raw)
	if err != nil {
		return Reading{}, err
	}

	return Reading{Latitude: lat, Longitude: lon, Timestamp: ts, Pollutants: p}, nil
}

func (v Validator) timestamp(raw Raw) (time.Time, error) {
	val, present := raw["timestamp"]
	if !present || val == nil || val == "" {
		now := time.Now
		if v.Now != nil {
			now = v.Now
		}
		return now().UTC(), nil
	}
	s, ok := val.(string)
	if !ok {
		return time.Time{}, &ValidationError{Kind: KindInvalidValue, Field: "timestamp", Message: "must be an RFC 3339 string"}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, &ValidationError{Kind: KindInvalidValue, Field: "timestamp", Message: "must be an RFC 3339 string"}
	}
	return ts.UTC(), nil
}

func coordinate(raw Raw, field string, limit float64) (float64, error) {
	val, present := raw[field]
	if !present || val == nil {
		return 0, &ValidationError{Kind: KindInvalidCoordinates, Field: field, Message: "is required"}
	}
	f, ok := number(val)
	if !ok || math.IsNaN(f) {
		return 0, &ValidationError{Kind: KindInvalidCoordinates, Field: field, Message: "must be numeric"}
	}
	if f < -limit || f > limit {
		return 0, &ValidationError{Kind: KindInvalidCoordinates, Field: field, Message: fmt.Sprintf("must be within [-%g, %g]", limit, limit)}
	}
	return f, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
