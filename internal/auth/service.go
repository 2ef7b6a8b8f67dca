package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/arborhq/arbor/internal/model"
)

// Service answers authentication and authorization questions for the HTTP
// layer. It is stateless request-scoped logic over the credential store;
// correctness under concurrency relies on the store's transactions, not on
// in-process caching.
type Service struct {
	store      *Store
	jwtSecret  []byte
	sessionTTL time.Duration
}

// NewService creates an auth service bound to a credential store.
func NewService(store *Store, jwtSecret string, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 15 * time.Minute
	}
	return &Service{
		store:      store,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
	}
}

// Store exposes the underlying credential store.
func (s *Service) Store() *Store {
	return s.store
}

// Authenticate reports whether the username/password pair is valid. Unknown
// users, users with a non-login role, and wrong passwords all yield false
// with no further detail.
func (s *Service) Authenticate(ctx context.Context, username, password string) bool {
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return false
	}
	if !model.CanLogin(u.Role) {
		return false
	}
	return VerifyPassword(u.PwHash, password)
}

// Login verifies credentials and issues a session token. It returns
// ErrInvalidCredentials for every failure mode.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if !s.Authenticate(ctx, username, password) {
		return "", ErrInvalidCredentials
	}
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	return s.IssueSession(u.ID, u.Tree)
}

// EffectivePermissions returns the permission set of a user, looked up by
// their current stored role. The caller is expected to have authenticated
// already; an unknown username here is an internal error.
func (s *Service) EffectivePermissions(ctx context.Context, username string) (PermissionSet, error) {
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("effective permissions for %q: %w", username, err)
	}
	set, ok := PermissionsForRole(u.Role)
	if !ok {
		return nil, fmt.Errorf("effective permissions: role %d cannot hold permissions", u.Role)
	}
	return set, nil
}

// HasPermissions reports whether the user identified by GUID currently
// holds every listed permission. The role is re-read from the store on each
// call so role downgrades apply immediately.
func (s *Service) HasPermissions(ctx context.Context, guid string, perms ...string) (bool, error) {
	u, err := s.store.GetUserByID(ctx, guid)
	if err != nil {
		return false, fmt.Errorf("has permissions: %w", err)
	}
	set, ok := PermissionsForRole(u.Role)
	if !ok {
		return false, nil
	}
	return set.Contains(perms...), nil
}
