package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Limited token scopes. A scoped token is valid for exactly one self-service
// workflow; presenting it anywhere else fails with ErrWrongScope.
const (
	ScopeConfirmEmail  = "confirm_email"
	ScopeResetPassword = "reset_password"
	ScopeCreateAdmin   = "create_admin"
)

// ScopedTokenTTL is the validity window for confirm/reset tokens.
const ScopedTokenTTL = time.Hour

// Claims is the JWT claim set used for both session tokens and scoped
// tokens. Session tokens carry Subject (user GUID) and Tree and no
// LimitedScope; scoped tokens carry LimitedScope plus workflow-specific
// claims (the pending email address, or a snapshot of the password hash at
// issuance time).
type Claims struct {
	Tree         string `json:"tree,omitempty"`
	LimitedScope string `json:"limited_scope,omitempty"`
	Email        string `json:"email,omitempty"`
	OldHash      string `json:"old_hash,omitempty"`
	jwt.RegisteredClaims
}

// IsLimited reports whether the token is restricted to a single workflow.
func (c *Claims) IsLimited() bool {
	return c.LimitedScope != ""
}

func (s *Service) signToken(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ParseToken verifies a token's signature and expiry and returns its claims.
func (s *Service) ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

// IssueSession creates a session token for an authenticated user. The token
// embeds the user's GUID and tree; role and permissions are re-read from
// the store on every request so downgrades take effect immediately.
func (s *Service) IssueSession(guid, tree string) (string, error) {
	now := time.Now()
	return s.signToken(Claims{
		Tree: tree,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   guid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
			Issuer:    tokenIssuer,
		},
	})
}

// IssueConfirmEmail creates a confirm-email token carrying the address that
// was pending at issuance. Validation later checks the claim against the
// then-current stored email.
func (s *Service) IssueConfirmEmail(guid, tree, email string) (string, error) {
	now := time.Now()
	return s.signToken(Claims{
		Tree:         tree,
		LimitedScope: ScopeConfirmEmail,
		Email:        email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   guid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ScopedTokenTTL)),
			Issuer:    tokenIssuer,
		},
	})
}

// IssueResetPassword creates a reset token embedding a snapshot of the
// current password hash. The snapshot makes the token single-use: the
// moment the password changes, the claim no longer matches and validation
// fails with ErrTokenUsed.
func (s *Service) IssueResetPassword(guid, oldHash string) (string, error) {
	now := time.Now()
	return s.signToken(Claims{
		LimitedScope: ScopeResetPassword,
		OldHash:      oldHash,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   guid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ScopedTokenTTL)),
			Issuer:    tokenIssuer,
		},
	})
}

// IssueCreateAdmin creates a bootstrap token for first-admin creation. Only
// honored by the create_owner endpoint while the user table is empty.
func (s *Service) IssueCreateAdmin(ttl time.Duration) (string, error) {
	now := time.Now()
	return s.signToken(Claims{
		LimitedScope: ScopeCreateAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
		},
	})
}

const tokenIssuer = "arbor"
