package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/arborhq/arbor/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAddUser(t *testing.T, s *Store, p AddUserParams) *model.User {
	t.Helper()
	u, err := s.AddUser(context.Background(), p)
	if err != nil {
		t.Fatalf("AddUser(%q): %v", p.Name, err)
	}
	return u
}

func TestAddUserValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddUser(ctx, AddUserParams{Name: "", Password: "pw"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty name: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := s.AddUser(ctx, AddUserParams{Name: "a", Password: ""}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty password: err = %v, want ErrInvalidArgument", err)
	}
}

func TestAddUserAssignsImmutableGUID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := mustAddUser(t, s, AddUserParams{Name: "alice", Password: "pw"})
	if u.ID == "" {
		t.Fatal("expected a generated GUID")
	}

	newName := "alicia"
	if err := s.ModifyUser(ctx, "alice", UserUpdate{NewName: &newName}); err != nil {
		t.Fatalf("ModifyUser: %v", err)
	}
	got, err := s.GetUser(ctx, "alicia")
	if err != nil {
		t.Fatalf("GetUser after rename: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("GUID changed on rename: %q != %q", got.ID, u.ID)
	}
}

func TestDuplicateUsernameAndEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := mustAddUser(t, s, AddUserParams{
		Name: "alice", Password: "pw", Email: "alice@example.com", Role: model.RoleMember,
	})

	if _, err := s.AddUser(ctx, AddUserParams{Name: "alice", Password: "other"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate name: err = %v, want ErrDuplicate", err)
	}
	if _, err := s.AddUser(ctx, AddUserParams{Name: "bob", Password: "pw", Email: "alice@example.com"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate email: err = %v, want ErrDuplicate", err)
	}

	// The first user must be untouched by the failed inserts.
	got, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.ID != first.ID || got.Email != first.Email || got.Role != first.Role {
		t.Errorf("first user modified by failed insert: %+v", got)
	}
}

func TestUsersWithoutEmailDoNotCollide(t *testing.T) {
	s := newTestStore(t)
	mustAddUser(t, s, AddUserParams{Name: "a", Password: "pw"})
	mustAddUser(t, s, AddUserParams{Name: "b", Password: "pw"})
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetUser(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetGUID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetGUID: err = %v, want ErrNotFound", err)
	}
	if err := s.ModifyUser(ctx, "ghost", UserUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("ModifyUser: err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteUser(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteUser: err = %v, want ErrNotFound", err)
	}
}

func TestModifyUserPartialUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAddUser(t, s, AddUserParams{
		Name: "alice", Password: "pw", Email: "a@example.com", FullName: "Alice", Role: model.RoleMember,
	})

	role := model.RoleEditor
	if err := s.ModifyUser(ctx, "alice", UserUpdate{Role: &role}); err != nil {
		t.Fatalf("ModifyUser: %v", err)
	}

	got, _ := s.GetUser(ctx, "alice")
	if got.Role != model.RoleEditor {
		t.Errorf("role = %d, want %d", got.Role, model.RoleEditor)
	}
	if got.Email != "a@example.com" || got.FullName != "Alice" {
		t.Errorf("untouched fields changed: %+v", got)
	}
}

func TestModifyUserPasswordRehash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAddUser(t, s, AddUserParams{Name: "alice", Password: "old"})
	before, _ := s.PwHash(ctx, "alice")

	pw := "new"
	if err := s.ModifyUser(ctx, "alice", UserUpdate{Password: &pw}); err != nil {
		t.Fatalf("ModifyUser: %v", err)
	}
	after, _ := s.PwHash(ctx, "alice")
	if before == after {
		t.Error("password hash unchanged after password update")
	}
	if !VerifyPassword(after, "new") {
		t.Error("new password does not verify")
	}
}

func TestListUsersTreeFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAddUser(t, s, AddUserParams{Name: "a1", Password: "pw", Tree: "treeA"})
	mustAddUser(t, s, AddUserParams{Name: "a2", Password: "pw", Tree: "treeA"})
	mustAddUser(t, s, AddUserParams{Name: "b1", Password: "pw", Tree: "treeB"})
	mustAddUser(t, s, AddUserParams{Name: "nomad", Password: "pw"})

	all, err := s.ListUsers(ctx, "")
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("all users = %d, want 4", len(all))
	}

	// Tree filter includes that tree's users plus tree-less users.
	treeA, err := s.ListUsers(ctx, "treeA")
	if err != nil {
		t.Fatalf("ListUsers(treeA): %v", err)
	}
	names := map[string]bool{}
	for _, u := range treeA {
		names[u.Name] = true
	}
	if len(treeA) != 3 || !names["a1"] || !names["a2"] || !names["nomad"] {
		t.Errorf("treeA users = %v, want a1, a2, nomad", names)
	}
	if names["b1"] {
		t.Error("treeB user leaked into treeA listing")
	}
}

func TestCountUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAddUser(t, s, AddUserParams{Name: "own", Password: "pw", Role: model.RoleOwner, Tree: "t1"})
	mustAddUser(t, s, AddUserParams{Name: "mem", Password: "pw", Role: model.RoleMember, Tree: "t1"})
	mustAddUser(t, s, AddUserParams{Name: "adm", Password: "pw", Role: model.RoleAdmin})

	total, err := s.CountUsers(ctx, UserFilter{})
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}

	t1 := "t1"
	owners, err := s.CountUsers(ctx, UserFilter{Tree: &t1, Roles: []int{model.RoleOwner}})
	if err != nil {
		t.Fatalf("CountUsers(owners of t1): %v", err)
	}
	if owners != 1 {
		t.Errorf("owners of t1 = %d, want 1", owners)
	}

	t2 := "t2"
	none, err := s.CountUsers(ctx, UserFilter{Tree: &t2, Roles: []int{model.RoleOwner}})
	if err != nil {
		t.Fatalf("CountUsers(owners of t2): %v", err)
	}
	if none != 0 {
		t.Errorf("owners of t2 = %d, want 0", none)
	}
}

func TestFillTree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAddUser(t, s, AddUserParams{Name: "blank", Password: "pw"})
	mustAddUser(t, s, AddUserParams{Name: "kept", Password: "pw", Tree: "other"})

	if err := s.FillTree(ctx, "main"); err != nil {
		t.Fatalf("FillTree: %v", err)
	}

	blank, _ := s.GetUser(ctx, "blank")
	if blank.Tree != "main" {
		t.Errorf("blank.Tree = %q, want %q", blank.Tree, "main")
	}
	kept, _ := s.GetUser(ctx, "kept")
	if kept.Tree != "other" {
		t.Errorf("kept.Tree = %q, want %q (must be unchanged)", kept.Tree, "other")
	}
}

func TestOwnerEmails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAddUser(t, s, AddUserParams{Name: "o1", Password: "pw", Role: model.RoleOwner, Tree: "t", Email: "o1@example.com"})
	mustAddUser(t, s, AddUserParams{Name: "o2", Password: "pw", Role: model.RoleOwner, Tree: "t"}) // no email
	mustAddUser(t, s, AddUserParams{Name: "m", Password: "pw", Role: model.RoleMember, Tree: "t", Email: "m@example.com"})
	mustAddUser(t, s, AddUserParams{Name: "o3", Password: "pw", Role: model.RoleOwner, Tree: "x", Email: "o3@example.com"})

	emails, err := s.OwnerEmails(ctx, "t")
	if err != nil {
		t.Fatalf("OwnerEmails: %v", err)
	}
	if len(emails) != 1 || emails[0] != "o1@example.com" {
		t.Errorf("emails = %v, want [o1@example.com]", emails)
	}
}

func TestConfigAllowList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.ConfigSet(ctx, "NOT_A_KEY", "x"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("disallowed key: err = %v, want ErrInvalidArgument", err)
	}

	if err := s.ConfigSet(ctx, model.ConfigBaseURL, "https://example.com"); err != nil {
		t.Fatalf("ConfigSet: %v", err)
	}
	got, err := s.ConfigGet(ctx, model.ConfigBaseURL)
	if err != nil {
		t.Fatalf("ConfigGet: %v", err)
	}
	if got != "https://example.com" {
		t.Errorf("value = %q, want %q", got, "https://example.com")
	}

	// Update in place.
	if err := s.ConfigSet(ctx, model.ConfigBaseURL, "https://other.example.com"); err != nil {
		t.Fatalf("ConfigSet update: %v", err)
	}
	got, _ = s.ConfigGet(ctx, model.ConfigBaseURL)
	if got != "https://other.example.com" {
		t.Errorf("updated value = %q", got)
	}

	all, err := s.ConfigGetAll(ctx)
	if err != nil {
		t.Fatalf("ConfigGetAll: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("config entries = %d, want 1", len(all))
	}

	if err := s.ConfigDelete(ctx, model.ConfigBaseURL); err != nil {
		t.Fatalf("ConfigDelete: %v", err)
	}
	if _, err := s.ConfigGet(ctx, model.ConfigBaseURL); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted key: err = %v, want ErrNotFound", err)
	}
	// Deleting an absent key is a no-op.
	if err := s.ConfigDelete(ctx, model.ConfigBaseURL); err != nil {
		t.Errorf("double delete: %v", err)
	}
}
