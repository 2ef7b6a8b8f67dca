package handler

import (
	"net/http"

	"github.com/arborhq/arbor/internal/auth"
	"github.com/arborhq/arbor/internal/model"
)

// TokenHandler issues session tokens.
type TokenHandler struct {
	authSvc *auth.Service
}

func NewTokenHandler(authSvc *auth.Service) *TokenHandler {
	return &TokenHandler{authSvc: authSvc}
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Create authenticates a username/password pair and returns a session
// token. Every failure mode answers 403 with no further detail.
// POST /api/token/
func (h *TokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	token, err := h.authSvc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusForbidden, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, model.TokenResponse{AccessToken: token})
}
