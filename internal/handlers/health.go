// Package handlers provides the HTTP handlers of the local dashboard API
// started by `pulse serve`. Handlers parse requests, call the service layer
// and format JSON responses; they hold no session state of their own.
//
// This package includes handlers for:
//   - Health and readiness checks
//   - The session (snapshot, login, registration, logout, resume)
//   - Daily, weekly and ranged nutrition summaries and the meals list
//   - Macro target preview, save and load
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ieraasyl/PulseClient/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Pinger is a dependency whose reachability is reported by Ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints for monitoring.
type HealthHandler struct {
	store   Pinger
	backend string
}

// NewHealthHandler creates a health handler that checks the token store.
//
// Parameters:
//   - store: the configured token store
//   - backend: store kind reported in the response (file, redis or memory)
//
// Example:
//
//	healthHandler := handlers.NewHealthHandler(store, cfg.Store.Kind)
//	r.Get("/health", healthHandler.Health)
//	r.Get("/ready", healthHandler.Ready)
func NewHealthHandler(store Pinger, backend string) *HealthHandler {
	return &HealthHandler{store: store, backend: backend}
}

// HealthResponse represents the health check response structure.
//
// JSON example:
//
//	{
//	  "status": "ok",
//	  "timestamp": "2024-01-20T14:30:00Z",
//	  "services": {
//	    "token_store": "healthy"
//	  }
//	}
type HealthResponse struct {
	Status    string            `json:"status"`             // Overall status: "ok" or "degraded"
	Timestamp time.Time         `json:"timestamp"`          // Current server time
	Backend   string            `json:"backend,omitempty"`  // Token store kind (readiness only)
	Services  map[string]string `json:"services,omitempty"` // Individual service health (readiness only)
}

// Health returns a liveness check. It never touches dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	}

	utils.RespondWithJSON(w, r, http.StatusOK, response)
}

// Ready checks that the token store is reachable. Returns 200 OK when it is
// and 503 Service Unavailable otherwise. The check times out after 5 seconds.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	healthy := true

	if err := h.store.Ping(ctx); err != nil {
		log.Error().Err(err).Str("backend", h.backend).Msg("Token store health check failed")
		services["token_store"] = "unhealthy"
		healthy = false
	} else {
		services["token_store"] = "healthy"
	}

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Backend:   h.backend,
		Services:  services,
	}

	statusCode := http.StatusOK
	if !healthy {
		response.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	utils.RespondWithJSON(w, r, statusCode, response)
}
