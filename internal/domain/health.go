package domain

import "time"

// HealthStatus grades the outcome of a dependency check.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck records a single dependency check result.
type SystemHealthCheck struct {
	Status    HealthStatus  `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
}

// SystemHealthReport aggregates dependency checks for readiness reporting.
type SystemHealthReport struct {
	Status      HealthStatus                 `json:"status"`
	Checks      map[string]SystemHealthCheck `json:"checks"`
	GeneratedAt time.Time                    `json:"generated_at"`
}
