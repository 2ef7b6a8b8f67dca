package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/arborhq/arbor/internal/gendb"
	"github.com/arborhq/arbor/internal/media"
	"github.com/arborhq/arbor/internal/search"
	"github.com/arborhq/arbor/internal/server/middleware"
)

// MediaHandler serves media file content, conditional uploads, and face
// detection results.
type MediaHandler struct {
	trees       *gendb.Registry
	storage     media.Storage
	faces       *media.FaceService
	indexer     *search.Indexer
	defaultTree string
}

func NewMediaHandler(trees *gendb.Registry, storage media.Storage, faces *media.FaceService, indexer *search.Indexer, defaultTree string) *MediaHandler {
	if defaultTree == "" {
		defaultTree = "default"
	}
	return &MediaHandler{
		trees:       trees,
		storage:     storage,
		faces:       faces,
		indexer:     indexer,
		defaultTree: defaultTree,
	}
}

// treeID resolves the caller's tree, falling back to the deployment's
// default tree for users without a tree assignment.
func (h *MediaHandler) treeID(ctx context.Context) string {
	if claims := middleware.GetClaims(ctx); claims != nil && claims.Tree != "" {
		return claims.Tree
	}
	return h.defaultTree
}

// GetFile streams the original file bytes of a media object. The stored
// checksum doubles as the ETag; an If-Match header that does not match it
// answers 412. The "download" query flag switches the disposition to
// attachment.
// GET /api/media/{handle}/file
func (h *MediaHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	handle := chi.URLParam(r, "handle")
	treeID := h.treeID(ctx)

	tree, err := h.trees.Get(treeID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Tree not found")
		return
	}
	m, err := tree.GetMedia(ctx, handle)
	if err != nil {
		if errors.Is(err, gendb.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Media object not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load media object")
		return
	}

	if match := r.Header.Get("If-Match"); match != "" && trimETag(match) != m.Checksum {
		writeError(w, http.StatusPreconditionFailed, "Checksum mismatch")
		return
	}

	f, modTime, err := h.storage.Open(treeID, m.Path)
	if err != nil {
		if errors.Is(err, media.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, "Media file is missing from storage")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to open media file")
		return
	}
	defer f.Close()

	filename := path.Base(m.Path)
	w.Header().Set("ETag", `"`+m.Checksum+`"`)
	if m.MIME != "" {
		w.Header().Set("Content-Type", m.MIME)
	}
	if queryBool(r, "download") {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	http.ServeContent(w, r, filename, modTime, f)
}

// PutFile replaces a media object's file content. Preconditions, in order:
// the handle must exist (404), the request must carry a content type (406),
// an If-Match header must match the stored checksum (412). Re-uploading
// identical bytes answers 409 unless the "uploadmissing" flag is set and
// the file is actually absent from storage; with the flag set, content
// differing from the stored checksum answers 409 instead. A successful
// replacement is transactional and returns the change-log document.
// PUT /api/media/{handle}/file
func (h *MediaHandler) PutFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	handle := chi.URLParam(r, "handle")
	treeID := h.treeID(ctx)

	tree, err := h.trees.Get(treeID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Tree not found")
		return
	}
	m, err := tree.GetMedia(ctx, handle)
	if err != nil {
		if errors.Is(err, gendb.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Media object not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load media object")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		writeError(w, http.StatusNotAcceptable, "Content type is required")
		return
	}
	if match := r.Header.Get("If-Match"); match != "" && trimETag(match) != m.Checksum {
		writeError(w, http.StatusPreconditionFailed, "Checksum mismatch")
		return
	}

	checksum, data, err := media.Checksum(r.Body)
	r.Body.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	uploadMissing := queryBool(r, "uploadmissing")
	if checksum == m.Checksum {
		if !uploadMissing {
			writeError(w, http.StatusConflict, "Content is identical to the stored file")
			return
		}
		if h.storage.Exists(treeID, m.Path) {
			writeError(w, http.StatusConflict, "File is not missing")
			return
		}
		if err := h.storage.Save(treeID, m.Path, bytes.NewReader(data)); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to store file")
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	if uploadMissing {
		writeError(w, http.StatusConflict, "Content does not match the stored checksum")
		return
	}

	newPath := media.DefaultFilename(checksum, contentType)
	if err := h.storage.Save(treeID, newPath, bytes.NewReader(data)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}
	change, err := tree.UpdateMedia(ctx, handle, newPath, contentType, checksum)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update media object")
		return
	}
	if err := h.indexer.IndexObject(ctx, treeID, change.New); err != nil {
		// The write succeeded; a stale index entry is repaired by reindex.
		writeJSON(w, http.StatusOK, change)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

// FaceDetection returns the detected face regions of an image, cached by
// content checksum.
// GET /api/media/{handle}/facedetection
func (h *MediaHandler) FaceDetection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	handle := chi.URLParam(r, "handle")
	treeID := h.treeID(ctx)

	tree, err := h.trees.Get(treeID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Tree not found")
		return
	}
	m, err := tree.GetMedia(ctx, handle)
	if err != nil {
		if errors.Is(err, gendb.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Media object not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load media object")
		return
	}

	regions, err := h.faces.Regions(ctx, m.Checksum, m.MIME, func() (io.ReadCloser, error) {
		f, _, err := h.storage.Open(treeID, m.Path)
		return f, err
	})
	if err != nil {
		if errors.Is(err, media.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, "Media file is missing from storage")
			return
		}
		writeError(w, http.StatusInternalServerError, "Face detection failed")
		return
	}
	writeJSON(w, http.StatusOK, regions)
}

// trimETag strips the quotes of a strong ETag value.
func trimETag(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}
