package models

import "time"

// HealthStatus is the coarse state reported by the ops endpoints.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// Health is returned by /v1/ops/health and /v1/ops/ready.
type Health struct {
	Status  HealthStatus          `json:"status"`
	Time    time.Time             `json:"time"`
	Version string                `json:"version,omitempty"`
	Build   string                `json:"build_time,omitempty"`
	Checks  map[string]CheckState `json:"checks,omitempty"`
}

// CheckState is the result of one readiness dependency check.
type CheckState struct {
	Status HealthStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
	// Circuit is the breaker state when the dependency is guarded by one.
	Circuit string `json:"circuit,omitempty"`
}
