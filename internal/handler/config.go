package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arborhq/arbor/internal/auth"
	"github.com/arborhq/arbor/internal/model"
)

// ConfigHandler serves the runtime configuration table. Keys are restricted
// to a fixed allow-list; reads of unknown or disallowed keys answer 404,
// writes to disallowed keys answer 400.
type ConfigHandler struct {
	store *auth.Store
}

func NewConfigHandler(store *auth.Store) *ConfigHandler {
	return &ConfigHandler{store: store}
}

// List returns all stored configuration entries.
// GET /api/config/
func (h *ConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.store.ConfigGetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read configuration")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Get returns a single configuration value.
// GET /api/config/{key}/
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !model.AllowedConfigKeys[key] {
		writeError(w, http.StatusNotFound, "Unknown configuration key")
		return
	}
	value, err := h.store.ConfigGet(r.Context(), key)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Configuration key is not set")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to read configuration")
		return
	}
	writeJSON(w, http.StatusOK, model.ConfigEntry{Key: key, Value: value})
}

type configSetRequest struct {
	Value string `json:"value"`
}

// Set creates or updates a configuration value.
// PUT /api/config/{key}/
func (h *ConfigHandler) Set(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req configSetRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.ConfigSet(r.Context(), key, req.Value); err != nil {
		if errors.Is(err, auth.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, "Configuration key is not allowed")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to write configuration")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Delete removes a configuration value. Deleting an unset key is a no-op.
// DELETE /api/config/{key}/
func (h *ConfigHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !model.AllowedConfigKeys[key] {
		writeError(w, http.StatusBadRequest, "Configuration key is not allowed")
		return
	}
	if err := h.store.ConfigDelete(r.Context(), key); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete configuration")
		return
	}
	w.WriteHeader(http.StatusOK)
}
