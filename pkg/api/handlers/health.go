package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/romstack/romstack/pkg/catalog/store"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	store *store.GORMStore
}

// NewHealthHandler creates the health endpoints.
func NewHealthHandler(st *store.GORMStore) *HealthHandler {
	return &HealthHandler{store: st}
}

// Liveness reports that the process is up. It never touches dependencies.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	OK(w, map[string]string{"status": "alive"})
}

// Readiness reports whether the catalog database answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, Response{
			Status:    "error",
			Timestamp: time.Now().UTC(),
			Error:     "database unreachable",
		})
		return
	}
	OK(w, map[string]string{"status": "ready"})
}
