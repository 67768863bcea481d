package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/tasksync/internal/entity"
	"github.com/hyperengineering/tasksync/internal/resolver"
	"github.com/hyperengineering/tasksync/internal/store"
	tasksync "github.com/hyperengineering/tasksync/internal/sync"
	"github.com/hyperengineering/tasksync/internal/validation"
)

// MaxPushIDLength bounds the optional pushId of a push request.
const MaxPushIDLength = 128

// SyncPush handles POST /api/v1/sync/push
func (h *Handler) SyncPush(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ownerID, ok := OwnerIDFromContext(ctx)
	if !ok {
		WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid credentials")
		return
	}

	// 1. Parse request
	var req tasksync.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}

	// 2. Validate envelope
	if errs := h.validatePushRequest(req); len(errs) > 0 {
		WriteValidationErrors(w, r, "Push request is malformed", errs)
		return
	}

	// 3. Check idempotency
	if req.PushID != "" {
		cached, found, err := h.store.CheckPushIdempotency(ctx, ownerID, req.PushID)
		if err != nil {
			slog.Error("idempotency check failed", "owner_id", ownerID, "error", err)
			WriteProblem(w, r, http.StatusInternalServerError, "Internal error")
			return
		}
		if found {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotent-Replay", "true")
			w.Write(cached)
			slog.Info("push idempotent replay",
				"component", "api",
				"action", "sync_push_replay",
				"owner_id", ownerID,
				"push_id", req.PushID,
			)
			return
		}
	}

	// 4. Run the batch
	result, err := h.engine.ProcessBatch(ctx, ownerID, req.Operations)
	if err != nil {
		slog.Error("push batch failed",
			"component", "api",
			"action", "sync_push_failed",
			"owner_id", ownerID,
			"push_id", req.PushID,
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Push failed")
		return
	}

	resp := tasksync.PushResponse{
		Processed: result.Processed,
		Conflicts: result.Conflicts,
		Timestamp: result.Timestamp,
	}
	respBytes, err := json.Marshal(resp)
	if err != nil {
		slog.Error("encode push response", "owner_id", ownerID, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal error")
		return
	}

	// 5. Cache response for idempotency
	if req.PushID != "" {
		if err := h.store.RecordPushIdempotency(ctx, ownerID, req.PushID, respBytes, h.settings.IdempotencyTTL); err != nil {
			slog.Warn("failed to cache idempotency", "owner_id", ownerID, "push_id", req.PushID, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(respBytes)

	slog.Info("push completed",
		"component", "api",
		"action", "sync_push",
		"owner_id", ownerID,
		"push_id", req.PushID,
		"operations", len(req.Operations),
		"processed", len(resp.Processed),
		"conflicts", len(resp.Conflicts),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// validatePushRequest checks the envelope. The operation count is checked
// first so an oversized batch is rejected without walking it.
func (h *Handler) validatePushRequest(req tasksync.PushRequest) []validation.ValidationError {
	if n := len(req.Operations); n > h.settings.MaxOperations {
		return []validation.ValidationError{{
			Field:   "operations",
			Message: fmt.Sprintf("must contain at most %d item(s), got %d", h.settings.MaxOperations, n),
		}}
	}

	var c validation.Collector
	if req.PushID != "" {
		c.Add(validation.ValidateMaxLength("pushId", req.PushID, MaxPushIDLength))
		c.Add(validation.ValidateNoNullBytes("pushId", req.PushID))
	}
	c.AddAll(validation.FromValidator(h.validate.Struct(req)))
	return c.Errors()
}

// SyncPull handles GET /api/v1/sync/pull?cursor=N
func (h *Handler) SyncPull(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ownerID, ok := OwnerIDFromContext(ctx)
	if !ok {
		WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid credentials")
		return
	}

	after, err := parseCursor(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	changes, err := h.store.Changes(ctx, ownerID, after)
	if err != nil {
		slog.Error("pull changes failed", "component", "api", "action", "sync_pull_failed", "owner_id", ownerID, "error", err)
		MapStoreError(w, r, err)
		return
	}

	resp := buildPullResponse(changes, h.now().UTC())
	writeJSON(w, http.StatusOK, resp)

	slog.Info("sync pull served",
		"component", "api",
		"action", "sync_pull",
		"owner_id", ownerID,
		"cursor", after,
		"next_cursor", resp.Cursor,
		"tasks", len(resp.Tasks),
		"projects", len(resp.Projects),
		"deleted", len(resp.Deleted.Tasks)+len(resp.Deleted.Projects),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// parseCursor reads the optional cursor parameter. Absent means everything.
func parseCursor(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cursor parameter: must be a non-negative integer")
	}
	return n, nil
}

// buildPullResponse splits soft-deleted records into tombstones.
func buildPullResponse(changes *store.ChangeSet, lastSync time.Time) tasksync.PullResponse {
	resp := tasksync.PullResponse{
		Tasks:    []entity.Task{},
		Projects: []entity.Project{},
		Deleted: tasksync.DeletedSet{
			Tasks:    []tasksync.Tombstone{},
			Projects: []tasksync.Tombstone{},
		},
		Cursor:   changes.Cursor,
		LastSync: lastSync,
	}
	for _, t := range changes.Tasks {
		if t.Deleted() {
			resp.Deleted.Tasks = append(resp.Deleted.Tasks, tasksync.Tombstone{
				ID:                t.ID,
				ClientGeneratedID: t.ClientGeneratedID,
				DeletedAt:         t.UpdatedAt,
			})
			continue
		}
		resp.Tasks = append(resp.Tasks, t)
	}
	for _, p := range changes.Projects {
		if p.Archived {
			resp.Deleted.Projects = append(resp.Deleted.Projects, tasksync.Tombstone{
				ID:                p.ID,
				ClientGeneratedID: p.ClientGeneratedID,
				DeletedAt:         p.UpdatedAt,
			})
			continue
		}
		resp.Projects = append(resp.Projects, p)
	}
	return resp
}

// ConflictListResponse is the body of GET /api/v1/sync/conflicts.
type ConflictListResponse struct {
	Conflicts []tasksync.ConflictRecord `json:"conflicts"`
}

// ListConflicts handles GET /api/v1/sync/conflicts[?all=true]
func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := OwnerIDFromContext(ctx)
	if !ok {
		WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid credentials")
		return
	}

	includeResolved := r.URL.Query().Get("all") == "true"
	conflicts, err := h.store.ListConflicts(ctx, ownerID, includeResolved)
	if err != nil {
		slog.Error("list conflicts failed", "component", "api", "action", "conflicts_list_failed", "owner_id", ownerID, "error", err)
		MapStoreError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []tasksync.ConflictRecord{}
	}
	writeJSON(w, http.StatusOK, ConflictListResponse{Conflicts: conflicts})
}

// ResolveRequest is the body of POST /api/v1/sync/conflicts/{id}/resolve.
type ResolveRequest struct {
	Strategy string `json:"strategy" validate:"required"`
}

// ResolveResponse pairs the updated conflict with the decision.
type ResolveResponse struct {
	Conflict   tasksync.ConflictRecord `json:"conflict"`
	Resolution resolver.Resolution     `json:"resolution"`
}

// ResolveConflict handles POST /api/v1/sync/conflicts/{id}/resolve
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID, ok := OwnerIDFromContext(ctx)
	if !ok {
		WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid credentials")
		return
	}
	id := chi.URLParam(r, "id")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return
	}
	if errs := validation.FromValidator(h.validate.Struct(req)); len(errs) > 0 {
		WriteValidationErrors(w, r, "Resolve request is malformed", errs)
		return
	}
	strategy, err := resolver.ParseStrategy(req.Strategy)
	if err != nil {
		allowed := make([]string, len(resolver.Strategies))
		for i, s := range resolver.Strategies {
			allowed[i] = string(s)
		}
		WriteValidationErrors(w, r, "Unknown resolution strategy", []validation.ValidationError{
			*validation.ValidateEnum("strategy", req.Strategy, allowed),
		})
		return
	}

	// Conflict ids are ULIDs; anything else cannot name a stored conflict.
	if validation.ValidateULID("id", id) != nil {
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
		return
	}

	conflict, err := h.store.GetConflict(ctx, ownerID, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("get conflict failed", "component", "api", "owner_id", ownerID, "conflict_id", id, "error", err)
		}
		MapStoreError(w, r, err)
		return
	}
	if conflict.Resolved() {
		WriteProblem(w, r, http.StatusBadRequest, "Conflict is already resolved")
		return
	}

	resolution, err := resolver.Resolve(*conflict, strategy)
	if err != nil {
		if errors.Is(err, resolver.ErrNoServerCopy) {
			WriteProblem(w, r, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("resolve conflict failed", "component", "api", "owner_id", ownerID, "conflict_id", id, "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal error")
		return
	}

	if resolution.Final() {
		at := h.now().UTC()
		if err := h.store.MarkConflictResolved(ctx, ownerID, id, string(strategy), at); err != nil {
			slog.Error("mark conflict resolved failed", "component", "api", "owner_id", ownerID, "conflict_id", id, "error", err)
			MapStoreError(w, r, err)
			return
		}
		conflict.ResolvedAt = &at
		conflict.Resolution = string(strategy)
	}

	writeJSON(w, http.StatusOK, ResolveResponse{Conflict: *conflict, Resolution: resolution})

	slog.Info("conflict resolved",
		"component", "api",
		"action", "conflict_resolve",
		"owner_id", ownerID,
		"conflict_id", id,
		"strategy", strategy,
		"final", resolution.Final(),
	)
}
