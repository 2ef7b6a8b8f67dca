package handler

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arborhq/arbor/internal/server/middleware"
	"github.com/arborhq/arbor/internal/tasks"
)

// DispatchHandler covers the remaining task-dispatching endpoints: tree
// export, report generation, file import, and the download directory for
// finished artifacts.
type DispatchHandler struct {
	runner      tasks.Runner
	downloadDir string
	importDir   string
	defaultTree string
}

func NewDispatchHandler(runner tasks.Runner, downloadDir, importDir, defaultTree string) *DispatchHandler {
	if defaultTree == "" {
		defaultTree = "default"
	}
	return &DispatchHandler{
		runner:      runner,
		downloadDir: downloadDir,
		importDir:   importDir,
		defaultTree: defaultTree,
	}
}

func (h *DispatchHandler) treeID(ctx context.Context) string {
	if claims := middleware.GetClaims(ctx); claims != nil && claims.Tree != "" {
		return claims.Tree
	}
	return h.defaultTree
}

// Export dispatches a tree export. The finished file appears under
// /api/downloads/.
// POST /api/exporters/{format}/file
func (h *DispatchHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := h.runner.Run(ctx, tasks.TypeExportDB, tasks.ExportDBPayload{
		Tree:   h.treeID(ctx),
		Format: chi.URLParam(r, "format"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to dispatch export")
		return
	}
	writeDispatched(w, http.StatusCreated, ref)
}

// Report dispatches report generation.
// POST /api/reports/{reportId}/file
func (h *DispatchHandler) Report(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ref, err := h.runner.Run(ctx, tasks.TypeReportGenerate, tasks.ReportGeneratePayload{
		Tree:     h.treeID(ctx),
		ReportID: chi.URLParam(r, "reportId"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to dispatch report")
		return
	}
	writeDispatched(w, http.StatusCreated, ref)
}

// Import stores the uploaded file and dispatches its import into the
// caller's tree.
// POST /api/importers/{format}/file
func (h *DispatchHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	format := chi.URLParam(r, "format")

	if err := os.MkdirAll(h.importDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}
	dst := filepath.Join(h.importDir, uuid.NewString()+"."+format)
	f, err := os.Create(dst)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}
	_, copyErr := io.Copy(f, r.Body)
	r.Body.Close()
	if err := f.Close(); err == nil {
		err = copyErr
	}
	if copyErr != nil {
		os.Remove(dst)
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	ref, err := h.runner.Run(ctx, tasks.TypeImportFile, tasks.ImportFilePayload{
		Tree:   h.treeID(ctx),
		Path:   dst,
		Format: format,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to dispatch import")
		return
	}
	writeDispatched(w, http.StatusCreated, ref)
}

// Download serves a finished export or report artifact.
// GET /api/downloads/{name}
func (h *DispatchHandler) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	full := filepath.Join(h.downloadDir, name)
	if _, err := os.Stat(full); err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, full)
}
