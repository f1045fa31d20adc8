package handlers

import (
	"net/http"

	domain "github.com/aurelia-jewels/api/internal/domain"
	"github.com/aurelia-jewels/api/internal/platform/httpx"
	"github.com/aurelia-jewels/api/internal/services"
)

// SystemHandlers serves the liveness and readiness probes.
type SystemHandlers struct {
	system services.SystemService
}

// NewSystemHandlers constructs a new SystemHandlers instance.
func NewSystemHandlers(system services.SystemService) *SystemHandlers {
	return &SystemHandlers{system: system}
}

// Liveness reports process health without touching any dependency.
func (h *SystemHandlers) Liveness(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Readiness probes the backing dependencies and reports 503 until they all
// answer.
func (h *SystemHandlers) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h == nil || h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service unavailable", http.StatusServiceUnavailable))
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		writeServiceError(ctx, w, err, "health_error")
		return
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, map[string]any{"health": buildHealthPayload(report)})
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	CheckedAt string `json:"checked_at"`
}

func buildHealthPayload(report domain.SystemHealthReport) map[string]any {
	checks := make(map[string]healthCheckPayload, len(report.Checks))
	for name, check := range report.Checks {
		checks[name] = healthCheckPayload{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
	}
	return map[string]any{
		"status":       report.Status,
		"checks":       checks,
		"version":      report.Version,
		"commit":       report.CommitSHA,
		"environment":  report.Environment,
		"uptime_secs":  int64(report.Uptime.Seconds()),
		"generated_at": formatTime(report.GeneratedAt),
	}
}
