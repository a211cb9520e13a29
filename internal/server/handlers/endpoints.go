package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/relaycall/relaycall/internal/core"
	"github.com/relaycall/relaycall/internal/core/limiter"
	"github.com/relaycall/relaycall/internal/core/registry"
	apperrors "github.com/relaycall/relaycall/internal/errors"
)

// EndpointsHandler exposes the endpoint registry together with live limiter
// state.
type EndpointsHandler struct {
	Registry *registry.Registry
	Limiters *limiter.Pool
}

// EndpointStatus pairs an endpoint's configuration with its limiter snapshot.
type EndpointStatus struct {
	core.EndpointConfig
	Limiter *limiter.Status `json:"limiter,omitempty"`
}

// List handles GET /v1/endpoints.
func (h *EndpointsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		respondWithError(w, r, apperrors.NewInternalError("endpoint registry is not configured"))
		return
	}

	snapshots := make(map[string]limiter.Status)
	if h.Limiters != nil {
		for _, status := range h.Limiters.Snapshot() {
			snapshots[status.Endpoint] = status
		}
	}

	configs := h.Registry.All()
	out := make([]EndpointStatus, 0, len(configs))
	for _, cfg := range configs {
		status := EndpointStatus{EndpointConfig: cfg}
		if snap, ok := snapshots[cfg.Name]; ok {
			snap := snap
			status.Limiter = &snap
		}
		out = append(out, status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"endpoints": out})
}
