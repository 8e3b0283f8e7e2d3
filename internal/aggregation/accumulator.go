package aggregation

import (
	"time"

	"github.com/airgrid/airgrid/internal/reading"
)

// accumulator sums each pollutant over the points that carry it, so a
// parameter's average never counts readings that did not report it.
type accumulator struct {
	sums   [5]float64
	counts [5]int
	total  int
	latest time.Time
}

func (a *accumulator) add(p reading.StoredPoint) {
	for i, param := range reading.Parameters {
		if v, ok := p.Get(param); ok {
			a.sums[i] += v
			a.counts[i]++
		}
	}
	a.total++
	if p.Timestamp.After(a.latest) {
		a.latest = p.Timestamp
	}
}

func (a *accumulator) averages() reading.Pollutants {
	var out reading.Pollutants
	for i, param := range reading.Parameters {
		if a.counts[i] > 0 {
			out = out.With(param, a.sums[i]/float64(a.counts[i]))
		}
	}
	return out
}

// count returns the readings contributing to param, or every reading when
// param is empty.
func (a *accumulator) count(param reading.Parameter) int {
	if param == "" {
		return a.total
	}
	for i, p := range reading.Parameters {
		if p == param {
			return a.counts[i]
		}
	}
	return 0
}

func (a *accumulator) average(param reading.Parameter) (float64, bool) {
	for i, p := range reading.Parameters {
		if p == param && a.counts[i] > 0 {
			return a.sums[i] / float64(a.counts[i]), true
		}
	}
	return 0, false
}
