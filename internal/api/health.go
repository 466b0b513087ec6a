package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

const readyTimeout = 2 * time.Second

// Healthz reports process liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz checks the store, cache and any other registered dependency.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	ready := true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			slog.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	if !ready {
		JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": checks})
		return
	}
	JSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}
