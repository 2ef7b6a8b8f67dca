package model

// User is an identity record in the auth database. Each user belongs to at
// most one tree; an empty Tree means the user has not been assigned to a
// tenant yet and is visible within every tree. Passwords are stored as
// bcrypt hashes.
type User struct {
	ID       string `json:"-" db:"id"` // opaque GUID, immutable once assigned
	Name     string `json:"name" db:"name"`
	Email    string `json:"email" db:"email"`
	FullName string `json:"full_name" db:"fullname"`
	PwHash   string `json:"-" db:"pwhash"` // bcrypt hash, never expose
	Role     int    `json:"role" db:"role"`
	Tree     string `json:"tree,omitempty" db:"tree"`
}

// Role levels, ordered. Roles below zero cannot log in: they mark accounts
// that are mid-registration (unconfirmed) or confirmed but not yet activated
// by an owner (disabled).
const (
	RoleAdmin       = 5
	RoleOwner       = 4
	RoleEditor      = 3
	RoleContributor = 2
	RoleMember      = 1
	RoleGuest       = 0
	RoleDisabled    = -1
	RoleUnconfirmed = -2
)

// CanLogin reports whether the role permits authentication at all.
func CanLogin(role int) bool {
	return role >= RoleGuest
}
