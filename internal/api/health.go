package api

import (
	"net/http"
	"time"

	"github.com/cadencehq/cadence/internal/api/respond"
)

// HealthReporter is the service-level health aggregate.
type HealthReporter interface {
	IsHealthy() bool
	Components() map[string]bool
}

// HealthHandler serves GET /api/health.
type HealthHandler struct {
	reporter HealthReporter
}

func NewHealthHandler(reporter HealthReporter) *HealthHandler {
	return &HealthHandler{reporter: reporter}
}

// CheckHealth always returns 200; the body says healthy/unhealthy. A 500
// here would mean the handler itself broke.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "unhealthy"
	if h.reporter.IsHealthy() {
		status = "healthy"
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"components": h.reporter.Components(),
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}
