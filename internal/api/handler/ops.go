// Package handler implements the HTTP handlers of the AirGrid API.
package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/airgrid/airgrid/internal/api/models"
	"github.com/airgrid/airgrid/internal/api/response"
	"github.com/airgrid/airgrid/internal/resilience"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// breakerReporter is implemented by dependencies guarded by a circuit
// breaker.
type breakerReporter interface {
	Health() resilience.Health
}

const readinessTimeout = 2 * time.Second

// OpsHandler serves the liveness and readiness probes.
type OpsHandler struct {
	version   string
	buildTime string
	checks    map[string]Pinger
}

// NewOpsHandler creates an OpsHandler. checks are pinged by ReadinessCheck.
func NewOpsHandler(version, buildTime string, checks map[string]Pinger) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		checks:    checks,
	}
}

// HealthCheck handles GET /v1/ops/health. It never touches dependencies.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status:  models.HealthStatusOK,
		Time:    time.Now().UTC(),
		Version: h.version,
		Build:   h.buildTime,
	})
}

// ReadinessCheck handles GET /v1/ops/ready. Any failing dependency makes
// the service unready (503); a half-open breaker reports DEGRADED but stays
// ready.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	health := models.Health{
		Status:  models.HealthStatusOK,
		Time:    time.Now().UTC(),
		Version: h.version,
		Checks:  make(map[string]models.CheckState, len(names)),
	}
	for _, name := range names {
		dep := h.checks[name]
		state := models.CheckState{Status: models.HealthStatusOK}

		if br, ok := dep.(breakerReporter); ok {
			hh := br.Health()
			state.Circuit = hh.CircuitState.String()
			if hh.IsDegraded() {
				state.Status = models.HealthStatusDegraded
			}
		}
		if err := dep.Ping(ctx); err != nil {
			state.Status = models.HealthStatusFail
			state.Error = err.Error()
		}

		switch state.Status {
		case models.HealthStatusFail:
			health.Status = models.HealthStatusFail
		case models.HealthStatusDegraded:
			if health.Status == models.HealthStatusOK {
				health.Status = models.HealthStatusDegraded
			}
		}
		health.Checks[name] = state
	}

	status := http.StatusOK
	if health.Status == models.HealthStatusFail {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}
