package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arborhq/arbor/internal/auth"
	"github.com/arborhq/arbor/internal/model"
	"github.com/arborhq/arbor/internal/server/middleware"
	"github.com/arborhq/arbor/internal/tasks"
)

// selfName is the username alias for "the caller's own account".
const selfName = "-"

// UsersHandler serves the user management surface: CRUD, self-registration,
// email confirmation, password change and reset, and first-owner bootstrap.
type UsersHandler struct {
	authSvc *auth.Service
	runner  tasks.Runner
}

func NewUsersHandler(authSvc *auth.Service, runner tasks.Runner) *UsersHandler {
	return &UsersHandler{authSvc: authSvc, runner: runner}
}

func (h *UsersHandler) store() *auth.Store {
	return h.authSvc.Store()
}

// caller resolves the authenticated user behind the session claims. The
// role is read fresh from the store, not from the token.
func (h *UsersHandler) caller(ctx context.Context) (*model.User, error) {
	claims := middleware.GetClaims(ctx)
	if claims == nil {
		return nil, auth.ErrInvalidCredentials
	}
	return h.store().GetUserByID(ctx, claims.Subject)
}

// has is a boolean permission probe for branch decisions.
func (h *UsersHandler) has(ctx context.Context, perms ...string) bool {
	claims := middleware.GetClaims(ctx)
	if claims == nil {
		return false
	}
	ok, err := h.authSvc.HasPermissions(ctx, claims.Subject, perms...)
	return err == nil && ok
}

// ---------------------------------------------------------------------------
// Listing and reading
// ---------------------------------------------------------------------------

// List returns users visible to the caller: every user when the caller
// holds the cross-tree view permission, otherwise the caller's own tree
// (which includes tree-less users).
// GET /api/users/
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tree := ""
	if !h.has(ctx, auth.PermViewOtherTreeUser) {
		if !h.has(ctx, auth.PermViewOtherUser) {
			writeError(w, http.StatusForbidden, "Insufficient permissions")
			return
		}
		caller, err := h.caller(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to resolve caller")
			return
		}
		tree = caller.Tree
	}

	users, err := h.store().ListUsers(ctx, tree)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Get returns a single user. "-" always resolves to the caller; other
// users need the view permission, with the cross-tree variant when the
// target belongs to a different tree.
// GET /api/users/{username}/
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "username")

	caller, err := h.caller(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve caller")
		return
	}
	if name == selfName || name == caller.Name {
		writeJSON(w, http.StatusOK, caller)
		return
	}

	target, err := h.store().GetUser(ctx, name)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	// Viewing tolerates tree-less targets; editing does not.
	sameTree := target.Tree == caller.Tree || target.Tree == ""
	if sameTree && !h.has(ctx, auth.PermViewOtherUser) ||
		!sameTree && !h.has(ctx, auth.PermViewOtherTreeUser) {
		writeError(w, http.StatusForbidden, "Insufficient permissions")
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// ---------------------------------------------------------------------------
// Administrative create / update / delete
// ---------------------------------------------------------------------------

type createUserRequest struct {
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     int    `json:"role"`
	Tree     string `json:"tree"`
}

// Create adds a user administratively.
// POST /api/users/{username}/
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "username")
	if name == selfName {
		writeError(w, http.StatusBadRequest, "Invalid username")
		return
	}

	var req createUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Role < model.RoleUnconfirmed || req.Role > model.RoleAdmin {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	caller, err := h.caller(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve caller")
		return
	}

	need := []string{auth.PermAddUser}
	if req.Tree != "" && req.Tree != caller.Tree {
		need = append(need, auth.PermAddOtherTreeUser)
	}
	if req.Role == model.RoleAdmin {
		need = append(need, auth.PermMakeAdmin)
	}
	if !h.has(ctx, need...) {
		writeError(w, http.StatusForbidden, "Insufficient permissions")
		return
	}

	tree := req.Tree
	if tree == "" {
		tree = caller.Tree
	}
	if _, err := h.store().AddUser(ctx, auth.AddUserParams{
		Name:     name,
		Password: req.Password,
		FullName: req.FullName,
		Email:    req.Email,
		Role:     req.Role,
		Tree:     tree,
	}); err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicate):
			writeError(w, http.StatusConflict, "Username or email already exists")
		case errors.Is(err, auth.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, "Name and password are required")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to create user")
		}
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type updateUserRequest struct {
	Password *string `json:"password"`
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
	Role     *int    `json:"role"`
	Tree     *string `json:"tree"`
}

// Update modifies a user. "-" edits the caller's own details; changing
// one's own role or tree is always refused.
// PUT /api/users/{username}/
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "username")

	var req updateUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	caller, err := h.caller(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve caller")
		return
	}

	if name == selfName || name == caller.Name {
		if req.Role != nil || req.Tree != nil {
			writeError(w, http.StatusForbidden, "Cannot change own role or tree")
			return
		}
		if !h.has(ctx, auth.PermEditOwnUser) {
			writeError(w, http.StatusForbidden, "Insufficient permissions")
			return
		}
		h.applyUpdate(w, r, caller.Name, req)
		return
	}

	target, err := h.store().GetUser(ctx, name)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	cross := target.Tree != caller.Tree
	need := []string{auth.PermEditOtherUser}
	if cross {
		need = []string{auth.PermEditOtherTreeUser}
	}
	if req.Role != nil {
		if cross {
			need = append(need, auth.PermEditOtherTreeUserRole)
		} else {
			need = append(need, auth.PermEditUserRole)
		}
		if *req.Role == model.RoleAdmin {
			need = append(need, auth.PermMakeAdmin)
		}
		if *req.Role < model.RoleUnconfirmed || *req.Role > model.RoleAdmin {
			writeError(w, http.StatusBadRequest, "Invalid role")
			return
		}
	}
	if !h.has(ctx, need...) {
		writeError(w, http.StatusForbidden, "Insufficient permissions")
		return
	}
	h.applyUpdate(w, r, name, req)
}

func (h *UsersHandler) applyUpdate(w http.ResponseWriter, r *http.Request, name string, req updateUserRequest) {
	err := h.store().ModifyUser(r.Context(), name, auth.UserUpdate{
		Password: req.Password,
		FullName: req.FullName,
		Email:    req.Email,
		Role:     req.Role,
		Tree:     req.Tree,
	})
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, auth.ErrDuplicate):
		writeError(w, http.StatusConflict, "Username or email already exists")
	case errors.Is(err, auth.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "Invalid field value")
	default:
		writeError(w, http.StatusInternalServerError, "Failed to update user")
	}
}

// Delete removes a user. Deleting one's own account is refused.
// DELETE /api/users/{username}/
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "username")
	if name == selfName {
		writeError(w, http.StatusBadRequest, "Cannot delete own account")
		return
	}

	caller, err := h.caller(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve caller")
		return
	}
	if name == caller.Name {
		writeError(w, http.StatusBadRequest, "Cannot delete own account")
		return
	}

	target, err := h.store().GetUser(ctx, name)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	need := auth.PermDeleteUser
	if target.Tree != caller.Tree {
		need = auth.PermDeleteOtherTreeUser
	}
	if !h.has(ctx, need) {
		writeError(w, http.StatusForbidden, "Insufficient permissions")
		return
	}

	if err := h.store().DeleteUser(ctx, name); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ---------------------------------------------------------------------------
// Self-registration and bootstrap
// ---------------------------------------------------------------------------

type registerRequest struct {
	Password string `json:"password"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Tree     string `json:"tree"`
}

// Register creates an unconfirmed account and mails a confirmation link.
// Refused while the target tree has no owner, so self-registration can
// never create the first account.
// POST /api/users/{username}/register/
func (h *UsersHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "username")
	if name == selfName {
		writeError(w, http.StatusBadRequest, "Invalid username")
		return
	}

	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Password == "" || req.Email == "" || req.FullName == "" {
		writeError(w, http.StatusBadRequest, "Password, email and full name are required")
		return
	}

	filter := auth.UserFilter{Roles: []int{model.RoleOwner}}
	if req.Tree != "" {
		filter.Tree = &req.Tree
	}
	owners, err := h.store().CountUsers(ctx, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check tree owners")
		return
	}
	if owners == 0 {
		writeError(w, http.StatusMethodNotAllowed, "Registration is not available")
		return
	}

	u, err := h.store().AddUser(ctx, auth.AddUserParams{
		Name:     name,
		Password: req.Password,
		FullName: req.FullName,
		Email:    req.Email,
		Role:     model.RoleUnconfirmed,
		Tree:     req.Tree,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicate):
			writeError(w, http.StatusConflict, "Username or email already exists")
		case errors.Is(err, auth.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, "Name and password are required")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to register user")
		}
		return
	}

	token, err := h.authSvc.IssueConfirmEmail(u.ID, u.Tree, u.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue confirmation token")
		return
	}
	if _, err := h.runner.Run(ctx, tasks.TypeEmailConfirm, tasks.EmailConfirmPayload{
		Username: u.Name,
		Email:    u.Email,
		Token:    token,
	}); err != nil {
		slog.Error("confirmation mail dispatch failed", "user", u.Name, "error", err)
	}
	w.WriteHeader(http.StatusCreated)
}

type createOwnerRequest struct {
	Password string `json:"password"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// CreateOwner is the one-shot bootstrap: it creates the first account at
// the top role. Usable only with a bootstrap-scoped token and only while
// the user table is completely empty.
// POST /api/users/{username}/create_owner/
func (h *UsersHandler) CreateOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "username")
	if name == selfName {
		writeError(w, http.StatusBadRequest, "Invalid username")
		return
	}

	total, err := h.store().CountUsers(ctx, auth.UserFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check users")
		return
	}
	if total > 0 {
		writeError(w, http.StatusMethodNotAllowed, "Bootstrap is no longer available")
		return
	}

	var req createOwnerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := h.store().AddUser(ctx, auth.AddUserParams{
		Name:     name,
		Password: req.Password,
		FullName: req.FullName,
		Email:    req.Email,
		Role:     model.RoleAdmin,
	}); err != nil {
		if errors.Is(err, auth.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, "Name and password are required")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create owner")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ---------------------------------------------------------------------------
// Email confirmation
// ---------------------------------------------------------------------------

// Confirm finishes registration from an emailed link. The token's email
// claim must still match the stored address; the unconfirmed -> disabled
// transition happens once, and only the first confirmation notifies the
// tree owners.
// GET /api/users/-/confirmation/?jwt=...
func (h *UsersHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, err := h.authSvc.ParseToken(r.URL.Query().Get("jwt"))
	if err != nil {
		writeErrorPage(w, http.StatusForbidden, "The confirmation link is invalid or has expired.")
		return
	}
	if claims.LimitedScope != auth.ScopeConfirmEmail {
		writeErrorPage(w, http.StatusForbidden, "The confirmation link is invalid or has expired.")
		return
	}

	u, err := h.store().GetUserByID(ctx, claims.Subject)
	if err != nil {
		writeErrorPage(w, http.StatusNotFound, "The account no longer exists.")
		return
	}
	if u.Email != claims.Email {
		writeErrorPage(w, http.StatusForbidden, "The email address on file has changed.")
		return
	}

	if u.Role == model.RoleUnconfirmed {
		role := model.RoleDisabled
		if err := h.store().ModifyUser(ctx, u.Name, auth.UserUpdate{Role: &role}); err != nil {
			writeErrorPage(w, http.StatusInternalServerError, "Confirmation failed, please try again later.")
			return
		}
		owners, err := h.store().OwnerEmails(ctx, u.Tree)
		if err != nil {
			slog.Error("owner lookup failed", "tree", u.Tree, "error", err)
		} else if _, err := h.runner.Run(ctx, tasks.TypeEmailNewUser, tasks.EmailNewUserPayload{
			Username: u.Name,
			FullName: u.FullName,
			Email:    u.Email,
			Tree:     u.Tree,
			Owners:   owners,
		}); err != nil {
			slog.Error("owner notification dispatch failed", "user", u.Name, "error", err)
		}
	}

	writePage(w, http.StatusOK, "confirmation.html", struct{ Username string }{u.Name})
}

// ---------------------------------------------------------------------------
// Password change and reset
// ---------------------------------------------------------------------------

type passwordChangeRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// PasswordChange sets a new password for the caller's own account after
// verifying the old one.
// POST /api/users/{username}/password/change/
func (h *UsersHandler) PasswordChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "username")

	caller, err := h.caller(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve caller")
		return
	}
	if name != selfName && name != caller.Name {
		writeError(w, http.StatusForbidden, "Can only change own password")
		return
	}
	if !h.has(ctx, auth.PermEditOwnUser) {
		writeError(w, http.StatusForbidden, "Insufficient permissions")
		return
	}

	var req passwordChangeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "New password must not be empty")
		return
	}
	if !h.authSvc.Authenticate(ctx, caller.Name, req.OldPassword) {
		writeError(w, http.StatusForbidden, "Old password is incorrect")
		return
	}

	if err := h.store().ModifyUser(ctx, caller.Name, auth.UserUpdate{Password: &req.NewPassword}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to change password")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ResetTrigger mails a single-use reset link. A missing user or a user
// without an email both answer 404 with no further detail.
// POST /api/users/{username}/password/reset/trigger/
func (h *UsersHandler) ResetTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "username")
	if name == selfName {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	u, err := h.store().GetUser(ctx, name)
	if err != nil || u.Email == "" {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	token, err := h.authSvc.IssueResetPassword(u.ID, u.PwHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue reset token")
		return
	}
	ref, err := h.runner.Run(ctx, tasks.TypeEmailReset, tasks.EmailResetPayload{
		Username: u.Name,
		Email:    u.Email,
		Token:    token,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to dispatch reset mail")
		return
	}
	writeDispatched(w, http.StatusCreated, ref)
}

// ResetForm renders the password form behind an emailed reset link, or an
// error page when the token is invalid, expired, or already used.
// GET /api/users/-/password/reset/?jwt=...
func (h *UsersHandler) ResetForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.URL.Query().Get("jwt")

	claims, err := h.authSvc.ParseToken(token)
	if err != nil || claims.LimitedScope != auth.ScopeResetPassword {
		writeErrorPage(w, http.StatusForbidden, "The reset link is invalid or has expired.")
		return
	}
	u, err := h.store().GetUserByID(ctx, claims.Subject)
	if err != nil {
		writeErrorPage(w, http.StatusNotFound, "The account no longer exists.")
		return
	}
	if u.PwHash != claims.OldHash {
		writeErrorPage(w, http.StatusConflict, "The reset link has already been used.")
		return
	}

	writePage(w, http.StatusOK, "reset.html", struct{ Username, Token string }{u.Name, token})
}

type resetApplyRequest struct {
	NewPassword string `json:"new_password"`
}

// ResetApply sets the new password carried by a reset-scoped token. The
// token embeds a snapshot of the password hash at issuance; any change to
// the password since then makes the token single-use by comparison, no
// server-side revocation state needed.
// POST /api/users/-/password/reset/
func (h *UsersHandler) ResetApply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.GetClaims(ctx)

	var req resetApplyRequest
	if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
		// The embedded HTML form posts urlencoded.
		req.NewPassword = r.FormValue("new_password")
	} else if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "New password must not be empty")
		return
	}

	u, err := h.store().GetUserByID(ctx, claims.Subject)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if u.PwHash != claims.OldHash {
		writeError(w, http.StatusConflict, "Reset token has already been used")
		return
	}

	if err := h.store().ModifyUser(ctx, u.Name, auth.UserUpdate{Password: &req.NewPassword}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set password")
		return
	}
	w.WriteHeader(http.StatusCreated)
}
