package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/airgrid/airgrid/internal/api/models"
)

// RateLimitConfig is a fixed request budget per client IP and window.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

// Default budgets. Sensors push far more often than dashboards query.
var (
	IngestRateLimit = RateLimitConfig{RequestLimit: 600, WindowLength: time.Minute}
	QueryRateLimit  = RateLimitConfig{RequestLimit: 120, WindowLength: time.Minute}
)

// RateLimitByIP limits requests per client IP, honouring X-Forwarded-For
// and X-Real-IP. Rejections are 429 problems with Retry-After set to the
// window length.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(cfg.WindowLength.Seconds())))

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", retryAfter)
			models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.").
				WithInstance(r.URL.Path).
				Write(w)
		}),
	)
}
