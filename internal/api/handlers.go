package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hyperengineering/tasksync/internal/engine"
	"github.com/hyperengineering/tasksync/internal/notify"
	"github.com/hyperengineering/tasksync/internal/store"
)

// Defaults used when Settings leaves a limit unset.
const (
	DefaultMaxOperations  = 500
	DefaultIdempotencyTTL = 24 * time.Hour
)

// Settings carries the request limits of the sync endpoints.
type Settings struct {
	MaxOperations  int
	IdempotencyTTL time.Duration
	Version        string
}

// Handler implements the API handlers
type Handler struct {
	store    store.Store
	engine   *engine.Engine
	validate *validator.Validate
	settings Settings
	hub      *notify.Hub
	now      func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHub enables the change stream endpoint backed by hub.
func WithHub(hub *notify.Hub) HandlerOption {
	return func(h *Handler) { h.hub = hub }
}

// NewHandler creates a Handler serving s through e.
func NewHandler(s store.Store, e *engine.Engine, settings Settings, opts ...HandlerOption) *Handler {
	if settings.MaxOperations <= 0 {
		settings.MaxOperations = DefaultMaxOperations
	}
	if settings.IdempotencyTTL <= 0 {
		settings.IdempotencyTTL = DefaultIdempotencyTTL
	}
	h := &Handler{
		store:    s,
		engine:   e,
		validate: newRequestValidator(),
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Kinds         []string `json:"kinds"`
	TaskCount     int64    `json:"taskCount"`
	ProjectCount  int64    `json:"projectCount"`
	OpenConflicts int64    `json:"openConflicts"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       h.settings.Version,
		Kinds:         h.engine.Kinds(),
		TaskCount:     stats.TaskCount,
		ProjectCount:  stats.ProjectCount,
		OpenConflicts: stats.OpenConflictCount,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
