package handler

import (
	"net/http"
)

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// HealthReadiness handles GET /health/readiness
func (h *Handlers) HealthReadiness(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			h.logger().Warnf("health: database ping failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// HealthLiveness handles GET /health/liveness
func (h *Handlers) HealthLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

// HealthServices handles GET /health/services.
func (h *Handlers) HealthServices(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{}

	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			services["database"] = "unhealthy: " + err.Error()
		} else {
			services["database"] = "healthy"
		}
	} else {
		services["database"] = "not_configured"
	}

	if h.Cache != nil {
		services["cache"] = "configured"
	} else {
		services["cache"] = "not_configured"
	}

	if h.Archiver != nil {
		services["archive"] = h.Archiver.SinkName()
	} else {
		services["archive"] = "not_configured"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"services":        services,
		"active_sessions": len(h.Batches.Keys()),
	})
}
