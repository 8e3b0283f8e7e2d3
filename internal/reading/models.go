// Package reading defines geolocated pollutant readings, their validation at
// intake, and the wire format used on the ingestion queue.
package reading

import (
	"time"
)

// Parameter identifies a recognized pollutant.
type Parameter string

const (
	PM25 Parameter = "pm25"
	PM10 Parameter = "pm10"
	NO2  Parameter = "no2"
	SO2  Parameter = "so2"
	O3   Parameter = "o3"
)

// Parameters lists every recognized pollutant in canonical order.
var Parameters = []Parameter{PM25, PM10, NO2, SO2, O3}

// ParseParameter returns the Parameter named s.
func ParseParameter(s string) (Parameter, bool) {
	for _, p := range Parameters {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Pollutants holds the optional pollutant values of one reading. A nil field
// means the sensor did not report that pollutant.
type Pollutants struct {
	PM25 *float64 `json:"pm25,omitempty"`
	PM10 *float64 `json:"pm10,omitempty"`
	NO2  *float64 `json:"no2,omitempty"`
	SO2  *float64 `json:"so2,omitempty"`
	O3   *float64 `json:"o3,omitempty"`
}

// Get returns the value reported for p.
func (p Pollutants) Get(param Parameter) (float64, bool) {
	ptr := p.field(param)
	if ptr == nil || *ptr == nil {
		return 0, false
	}
	return **ptr, true
}

// With returns a copy of p with param set to v.
func (p Pollutants) With(param Parameter, v float64) Pollutants {
	if ptr := p.field(param); ptr != nil {
		*ptr = &v
	}
	return p
}

// Measurements returns the reported values in canonical parameter order.
func (p Pollutants) Measurements() []Measurement {
	out := make([]Measurement, 0, len(Parameters))
	for _, param := range Parameters {
		if v, ok := p.Get(param); ok {
			out = append(out, Measurement{Parameter: param, Value: v})
		}
	}
	return out
}

// Empty reports whether no pollutant is present.
func (p Pollutants) Empty() bool {
	return p.PM25 == nil && p.PM10 == nil && p.NO2 == nil && p.SO2 == nil && p.O3 == nil
}

func (p *Pollutants) field(param Parameter) **float64 {
	switch param {
	case PM25:
		return &p.PM25
	case PM10:
		return &p.PM10
	case NO2:
		return &p.NO2
	case SO2:
		return &p.SO2
	case O3:
		return &p.O3
	}
	return nil
}

// Measurement is a single parameter/value pair.
type Measurement struct {
	Parameter Parameter
	Value     float64
}

// Reading is a validated sensor reading. It is never mutated after
// validation.
type Reading struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Pollutants
}

// StoredPoint is one persisted reading tagged with its storage-precision
// cell id.
type StoredPoint struct {
	CellID    string    `json:"cell_id"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Pollutants
}

// NewStoredPoint tags r with cellID.
func NewStoredPoint(r Reading, cellID string) StoredPoint {
	return StoredPoint{
		CellID:     cellID,
		Timestamp:  r.Timestamp.UTC(),
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		Pollutants: r.Pollutants,
	}
}

// Float returns a pointer to v, for building Pollutants literals.
func Float(v float64) *float64 {
	return &v
}
