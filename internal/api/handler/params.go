package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/airgrid/airgrid/internal/aggregation"
	"github.com/airgrid/airgrid/internal/api/models"
	"github.com/airgrid/airgrid/internal/api/response"
	"github.com/airgrid/airgrid/internal/geohash"
	"github.com/airgrid/airgrid/internal/reading"
)

// params parses query parameters, collecting one FieldError per bad field.
type params struct {
	values url.Values
	errs   []models.FieldError
}

func newParams(r *http.Request) *params {
	return &params{values: r.URL.Query()}
}

func (p *params) fail(field, code, msg string) {
	p.errs = append(p.errs, models.FieldError{Field: field, Message: msg, Code: code})
}

func (p *params) float(name string) float64 {
	s := p.values.Get(name)
	if s == "" {
		p.fail(name, "required", name+" is required")
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(name, "invalid_number", name+" must be a number")
	}
	return v
}

func (p *params) int(name string, def int) int {
	s := p.values.Get(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		p.fail(name, "invalid_integer", name+" must be a non-negative integer")
		return def
	}
	return v
}

func (p *params) duration(name string) time.Duration {
	s := p.values.Get(name)
	if s == "" {
		return 0
	}
	d, err := aggregation.ParseWindow(s)
	if err != nil {
		p.fail(name, "invalid_duration", name+` must be a duration such as "1h", "90m" or "7d"`)
	}
	return d
}

func (p *params) time(name string) time.Time {
	s := p.values.Get(name)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		p.fail(name, "invalid_time", name+" must be an RFC 3339 timestamp")
	}
	return t
}

func (p *params) parameter(name string, required bool) reading.Parameter {
	s := p.values.Get(name)
	if s == "" {
		if required {
			p.fail(name, "required", name+" is required")
		}
		return ""
	}
	param, ok := reading.ParseParameter(strings.ToLower(s))
	if !ok {
		p.fail(name, "unknown_parameter", name+" must be one of pm25, pm10, no2, so2, o3")
	}
	return param
}

func (p *params) box() geohash.Box {
	return geohash.Box{
		MinLat: p.float("min_lat"),
		MaxLat: p.float("max_lat"),
		MinLon: p.float("min_lon"),
		MaxLon: p.float("max_lon"),
	}
}

// ok writes a 400 when any parameter failed and reports whether parsing
// succeeded.
func (p *params) ok(w http.ResponseWriter, r *http.Request) bool {
	if len(p.errs) == 0 {
		return true
	}
	response.BadRequest(w, r, "invalid query parameters", p.errs)
	return false
}
