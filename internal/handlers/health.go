package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck returns the health status of the broker and its dependencies
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.clock(),
	}
	code := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			status[name+"_status"] = "unhealthy"
			status[name+"_error"] = err.Error()
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			status[name+"_status"] = "healthy"
		}
	}

	for name, info := range h.info {
		status[name] = info()
	}

	h.sendJSONResponse(w, code, status)
}
