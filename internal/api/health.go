package api

import (
	"net/http"
	"time"

	"github.com/tabwarden/tabwarden/internal/api/respond"
)

// HealthSource reports cached service health. health.Monitor
// satisfies it.
type HealthSource interface {
	IsHealthy() bool
	Unhealthy() []string
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	src HealthSource
}

func NewHealthHandler(src HealthSource) *HealthHandler { return &HealthHandler{src: src} }

// CheckHealth handles GET /api/health
// Always returns 200; body reports healthy/unhealthy. 500 indicates handler failure only.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "unhealthy"
	response := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.src != nil && h.src.IsHealthy() {
		status = "healthy"
	} else if h.src != nil {
		if failing := h.src.Unhealthy(); len(failing) > 0 {
			response["failing"] = failing
		}
	}
	response["status"] = status
	respond.WriteJSON(w, http.StatusOK, response)
}
