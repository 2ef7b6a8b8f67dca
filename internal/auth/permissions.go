package auth

import (
	"sync"

	"github.com/arborhq/arbor/internal/model"
)

// Permission names checked by protected endpoints. The first block applies
// within the caller's own tree; the second block is required instead when an
// action targets a user who lives in a different tree.
const (
	PermEditOwnUser    = "EditOwnUser"
	PermViewPrivate    = "ViewPrivate"
	PermAddObject      = "AddObject"
	PermEditObject     = "EditObject"
	PermDeleteObject   = "DeleteObject"
	PermEditNameGroup  = "EditNameGroup"
	PermAddUser        = "AddUser"
	PermDeleteUser     = "DeleteUser"
	PermEditOtherUser  = "EditOtherUser"
	PermEditUserRole   = "EditUserRole"
	PermViewOtherUser  = "ViewOtherUser"
	PermImportFile     = "ImportFile"
	PermTriggerReindex = "TriggerReindex"
	PermMakeAdmin      = "MakeAdmin"
	PermViewSettings   = "ViewSettings"
	PermEditSettings   = "EditSettings"

	PermAddOtherTreeUser      = "AddOtherTreeUser"
	PermViewOtherTreeUser     = "ViewOtherTreeUser"
	PermEditOtherTreeUser     = "EditOtherTreeUser"
	PermEditOtherTreeUserRole = "EditOtherTreeUserRole"
	PermDeleteOtherTreeUser   = "DeleteOtherTreeUser"
)

// PermissionSet is an immutable set of granted permission names.
type PermissionSet map[string]bool

// Contains reports whether every permission in perms is granted.
func (s PermissionSet) Contains(perms ...string) bool {
	for _, p := range perms {
		if !s[p] {
			return false
		}
	}
	return true
}

var (
	matrixOnce sync.Once
	matrix     map[int]PermissionSet
)

// PermissionsForRole returns the permission set granted to a role. The
// second return is false for roles that cannot log in; callers must treat
// that as an authentication failure, not an empty grant.
func PermissionsForRole(role int) (PermissionSet, bool) {
	matrixOnce.Do(buildMatrix)
	set, ok := matrix[role]
	return set, ok
}

// buildMatrix constructs the role→permissions table. Each login-capable
// role's set is the previous role's set plus role-specific grants, so a
// higher role never loses a permission held by a lower one. Cross-tree
// permissions exist only at the admin level.
func buildMatrix() {
	m := make(map[int]PermissionSet)

	m[model.RoleGuest] = newSet(
		PermEditOwnUser,
	)
	m[model.RoleMember] = extend(m[model.RoleGuest],
		PermViewPrivate,
	)
	m[model.RoleContributor] = extend(m[model.RoleMember],
		PermAddObject,
	)
	m[model.RoleEditor] = extend(m[model.RoleContributor],
		PermEditObject,
		PermDeleteObject,
		PermEditNameGroup,
	)
	m[model.RoleOwner] = extend(m[model.RoleEditor],
		PermAddUser,
		PermDeleteUser,
		PermEditOtherUser,
		PermEditUserRole,
		PermViewOtherUser,
		PermImportFile,
		PermTriggerReindex,
	)
	m[model.RoleAdmin] = extend(m[model.RoleOwner],
		PermAddOtherTreeUser,
		PermViewOtherTreeUser,
		PermEditOtherTreeUser,
		PermEditOtherTreeUserRole,
		PermDeleteOtherTreeUser,
		PermMakeAdmin,
		PermViewSettings,
		PermEditSettings,
	)

	matrix = m
}

func newSet(perms ...string) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = true
	}
	return s
}

func extend(base PermissionSet, perms ...string) PermissionSet {
	s := make(PermissionSet, len(base)+len(perms))
	for p := range base {
		s[p] = true
	}
	for _, p := range perms {
		s[p] = true
	}
	return s
}
