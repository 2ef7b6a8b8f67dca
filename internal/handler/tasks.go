package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arborhq/arbor/internal/server/middleware"
	"github.com/arborhq/arbor/internal/tasks"
)

// TasksHandler serves queued task status lookups.
type TasksHandler struct {
	status tasks.StatusReader
}

// NewTasksHandler creates a handler over the queue's status reader. A nil
// reader means no queue backend is configured; every lookup answers 404
// because inline tasks finish before the caller ever sees a handle.
func NewTasksHandler(status tasks.StatusReader) *TasksHandler {
	return &TasksHandler{status: status}
}

// Get returns the state of a queued task.
// GET /api/tasks/{id}
func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.status == nil {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	info, err := h.status.Status(id)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to read task status")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// SearchHandler triggers search index rebuilds.
type SearchHandler struct {
	runner      tasks.Runner
	defaultTree string
}

func NewSearchHandler(runner tasks.Runner, defaultTree string) *SearchHandler {
	if defaultTree == "" {
		defaultTree = "default"
	}
	return &SearchHandler{runner: runner, defaultTree: defaultTree}
}

func (h *SearchHandler) treeID(ctx context.Context) string {
	if claims := middleware.GetClaims(ctx); claims != nil && claims.Tree != "" {
		return claims.Tree
	}
	return h.defaultTree
}

// Reindex dispatches a reindex of the caller's tree. The "full" query flag
// drops the index first.
// POST /api/search/reindex/
func (h *SearchHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := h.runner.Run(ctx, tasks.TypeSearchReindex, tasks.SearchReindexPayload{
		Tree: h.treeID(ctx),
		Full: queryBool(r, "full"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to dispatch reindex")
		return
	}
	writeDispatched(w, http.StatusCreated, ref)
}
