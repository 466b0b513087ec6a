// Package api serves the REST endpoints and the revision WebSocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/p-n-ai/pai-revise/internal/auth"
	"github.com/p-n-ai/pai-revise/internal/dashboard"
	"github.com/p-n-ai/pai-revise/internal/progress"
	"github.com/p-n-ai/pai-revise/internal/questionbank"
	"github.com/p-n-ai/pai-revise/internal/revision"
)

// Checker reports whether a dependency is ready.
type Checker func(ctx context.Context) error

// Deps holds the services the handlers use.
type Deps struct {
	Bank        *questionbank.Bank
	Store       progress.Store
	Engine      *revision.Engine
	Dashboard   *dashboard.Aggregator
	Verifier    *auth.Verifier
	Checks      map[string]Checker // consulted by /readyz
	CORSOrigins []string
}

// Handler provides the HTTP handlers.
type Handler struct {
	bank      *questionbank.Bank
	store     progress.Store
	engine    *revision.Engine
	dashboard *dashboard.Aggregator
	checks    map[string]Checker
	validate  *validator.Validate
}

// NewHandler creates a Handler from deps.
func NewHandler(d Deps) *Handler {
	return &Handler{
		bank:      d.Bank,
		store:     d.Store,
		engine:    d.Engine,
		dashboard: d.Dashboard,
		checks:    d.Checks,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// NewRouter wires every route behind the shared middleware stack.
func NewRouter(d Deps) http.Handler {
	h := NewHandler(d)
	ws := NewRevisionSocket(d.Engine, d.Store, d.CORSOrigins)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(CORS(d.CORSOrigins))

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(d.Verifier))

		r.Get("/api/me", h.Me)

		r.Get("/api/bank", h.ListBoards)
		r.Get("/api/bank/{subject}/{board}", h.GetBoard)

		r.Route("/api/subjects", func(r chi.Router) {
			r.Get("/", h.ListSubjects)
			r.Post("/", h.CreateSubject)
			r.Put("/{id}/topics", h.UpdateTopics)
			r.Delete("/{id}", h.DeleteSubject)
		})

		r.Get("/api/settings", h.GetSettings)
		r.Put("/api/settings", h.SaveSettings)

		r.Get("/api/dashboard", h.Dashboard)
		r.Get("/api/dashboard/export.xlsx", h.ExportDashboard)

		r.Get("/ws/revision", ws.ServeHTTP)
	})

	return r
}

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, auth.UserFromContext(r.Context()))
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Notice is a user-facing message for the client to show as a toast or dialog.
type Notice struct {
	Level   string `json:"level"` // "info", "warning" or "error"
	Title   string `json:"title"`
	Message string `json:"message"`
}

func currentUser(r *http.Request) auth.User {
	if u := auth.UserFromContext(r.Context()); u != nil {
		return *u
	}
	return auth.User{}
}
