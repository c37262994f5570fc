package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/floatchat/floatchat/internal/api/response"
)

const readyTimeout = 5 * time.Second

// Pinger reports whether the profile store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles liveness, readiness and root requests.
type HealthHandler struct {
	store Pinger
}

// NewHealthHandler creates a new health handler. store may be nil (readiness then only reports the process).
func NewHealthHandler(store Pinger) *HealthHandler {
	return &HealthHandler{store: store}
}

// Root handles GET /.
func (h *HealthHandler) Root(w http.ResponseWriter, _ *http.Request) {
	response.RespondJSON(w, http.StatusOK, map[string]string{"message": "FloatChat API is running"})
}

// Check handles GET /health.
func (h *HealthHandler) Check(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health check response", "error", err)
	}
}

// Ready handles GET /ready by pinging the profile store.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := h.store.Ping(ctx); err != nil {
			slog.WarnContext(r.Context(), "readiness check failed", "error", err)
			response.RespondServiceUnavailable(w, "profile store is not reachable")

			return
		}
	}

	response.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
