package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is any dependency the health check should probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	service string
	checks  map[string]Pinger
}

// NewHealthHandler creates a health handler for service. checks may be nil.
func NewHealthHandler(service string, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{service: service, checks: checks}
}

// Health returns the health status of the service and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":  "healthy",
		"service": h.service,
		"checks":  checks,
	}
	statusCode := http.StatusOK

	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			slog.Error("Health check failed", "service", h.service, "check", name, "error", err)
			status["status"] = "degraded"
			checks[name] = "unreachable"
			statusCode = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
