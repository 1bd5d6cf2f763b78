package handlers

import (
	"net/http"
	"time"

	"github.com/upb/portal-gateway/jwks"
	"github.com/upb/portal-gateway/utils"
	"go.uber.org/zap"
)

// KeyStats reports signing key resolver state
type KeyStats interface {
	Stats() jwks.Stats
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Keys      *jwks.Stats       `json:"keys,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	keys   KeyStats
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(keys KeyStats, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		keys:   keys,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness check - always returns 200 if the process is serving
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
// Reports whether the key resolver is configured, with its cache statistics.
// An exhausted fetch window degrades the jwks check but not readiness: cached
// keys keep verifying.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	response := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
	httpStatus := http.StatusOK

	if h.keys == nil {
		checks["jwks"] = "not_initialized"
		response.Status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		stats := h.keys.Stats()
		response.Keys = &stats
		if stats.FetchesRemaining == 0 {
			checks["jwks"] = "throttled"
		} else {
			checks["jwks"] = "healthy"
		}
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
