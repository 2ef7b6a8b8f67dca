package model

import (
	"encoding/json"
	"testing"
)

func TestUserSecretsNotInJSON(t *testing.T) {
	u := User{
		ID:       "4f6b9a0e-0000-0000-0000-000000000000",
		Name:     "alice",
		Email:    "alice@example.com",
		FullName: "Alice Example",
		PwHash:   "$2a$10$somebcrypthash",
		Role:     RoleOwner,
		Tree:     "tree1",
	}

	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if _, ok := m["pwhash"]; ok {
		t.Error("pwhash should NOT appear in JSON output")
	}
	if _, ok := m["id"]; ok {
		t.Error("id should NOT appear in JSON output")
	}
	if m["name"] != "alice" {
		t.Errorf("name = %v, want %q", m["name"], "alice")
	}
	if m["full_name"] != "Alice Example" {
		t.Errorf("full_name = %v, want %q", m["full_name"], "Alice Example")
	}
}

func TestUserTreeOmittedWhenEmpty(t *testing.T) {
	u := User{Name: "bob", Role: RoleMember}

	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if _, ok := m["tree"]; ok {
		t.Error("tree should be omitted when empty")
	}
}

func TestCanLogin(t *testing.T) {
	tests := []struct {
		role int
		want bool
	}{
		{RoleAdmin, true},
		{RoleOwner, true},
		{RoleGuest, true},
		{RoleDisabled, false},
		{RoleUnconfirmed, false},
	}
	for _, tt := range tests {
		if got := CanLogin(tt.role); got != tt.want {
			t.Errorf("CanLogin(%d) = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestRoleOrdering(t *testing.T) {
	order := []int{RoleUnconfirmed, RoleDisabled, RoleGuest, RoleMember, RoleContributor, RoleEditor, RoleOwner, RoleAdmin}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Fatalf("role ordering broken at index %d: %d >= %d", i, order[i-1], order[i])
		}
	}
}
