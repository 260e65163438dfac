package handlers

import (
	"net/http"
	"time"

	domain "github.com/mohamedahmedsalah002/ecommerce-microservices/internal/domain"
	"github.com/mohamedahmedsalah002/ecommerce-microservices/internal/repositories"
)

var startTime = time.Now()

// HealthHandlers serves liveness and readiness endpoints. Liveness is static;
// readiness aggregates dependency checks from the health repository.
type HealthHandlers struct {
	health repositories.HealthRepository
}

// NewHealthHandlers constructs health handlers. A nil repository degrades
// readiness to the liveness response.
func NewHealthHandlers(health repositories.HealthRepository) *HealthHandlers {
	return &HealthHandlers{health: health}
}

// Healthz reports that the process is up.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz reports whether dependencies are reachable. A degraded report still
// answers 200 so partial outages do not pull the service out of rotation.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.health.Collect(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, map[string]any{
			"status": string(domain.HealthStatusError),
			"error":  err.Error(),
		})
		return
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}

	checks := make(map[string]any, len(report.Checks))
	for name, check := range report.Checks {
		entry := map[string]any{
			"status": string(check.Status),
		}
		if check.Detail != "" {
			entry["detail"] = check.Detail
		}
		checks[name] = entry
	}

	writeJSONResponse(w, status, map[string]any{
		"status":    string(report.Status),
		"checks":    checks,
		"timestamp": report.GeneratedAt.UTC().Format(time.RFC3339),
	})
}
