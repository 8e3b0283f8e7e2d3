package aggregation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ParseWindow parses a look-back window. It accepts Go durations ("90m",
// "1h30m") and a leading day count ("7d", "1d12h"). Every part must be
// non-negative and the total must fit in a time.Duration.
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty window", ErrInvalidQuery)
	}

	var days time.Duration
	rest := s
	if i := strings.IndexByte(s, 'd'); i >= 0 {
		n, err := strconv.Atoi(s[:i])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: invalid window %q", ErrInvalidQuery, s)
		}
		if int64(n) > math.MaxInt64/int64(day) {
			return 0, fmt.Errorf("%w: window %q is too long", ErrInvalidQuery, s)
		}
		days = time.Duration(n) * day
		rest = s[i+1:]
	}

	var d time.Duration
	if rest != "" {
		var err error
		if d, err = time.ParseDuration(rest); err != nil || d < 0 {
			return 0, fmt.Errorf("%w: invalid window %q", ErrInvalidQuery, s)
		}
	}
	if d > math.MaxInt64-days {
		return 0, fmt.Errorf("%w: window %q is too long", ErrInvalidQuery, s)
	}

	total := days + d
	if total <= 0 {
		return 0, fmt.Errorf("%w: window must be positive, got %q", ErrInvalidQuery, s)
	}
	return total, nil
}
