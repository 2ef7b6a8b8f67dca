package email

import (
	"context"
	"strings"
	"testing"

	"github.com/arborhq/arbor/internal/auth"
	"github.com/arborhq/arbor/internal/model"
)

// mapConfig is a ConfigSource backed by a plain map.
type mapConfig map[string]string

func (m mapConfig) ConfigGet(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", auth.ErrNotFound
	}
	return v, nil
}

func (m mapConfig) ConfigGetAll(context.Context) (map[string]string, error) {
	return m, nil
}

// recordingSender captures the last message instead of delivering it.
type recordingSender struct {
	to      []string
	subject string
	body    string
}

func (s *recordingSender) Send(_ context.Context, to []string, subject, body string) error {
	s.to = to
	s.subject = subject
	s.body = body
	return nil
}

func TestSendConfirmLinksToConfiguredBaseURL(t *testing.T) {
	rec := &recordingSender{}
	svc := NewService(mapConfig{model.ConfigBaseURL: "https://arbor.example/"}, rec)

	if err := svc.SendConfirm(context.Background(), "alice", "alice@example.com", "tok123"); err != nil {
		t.Fatalf("SendConfirm: %v", err)
	}
	if len(rec.to) != 1 || rec.to[0] != "alice@example.com" {
		t.Errorf("to = %v", rec.to)
	}
	want := "https://arbor.example/api/users/-/confirmation/?jwt=tok123"
	if !strings.Contains(rec.body, want) {
		t.Errorf("body missing link %q:\n%s", want, rec.body)
	}
	// Trailing slash on BASE_URL must not double up.
	if strings.Contains(rec.body, "example//api") {
		t.Errorf("body has doubled slash:\n%s", rec.body)
	}
}

func TestSendResetFallsBackToDefaultBaseURL(t *testing.T) {
	rec := &recordingSender{}
	svc := NewService(mapConfig{}, rec)

	if err := svc.SendReset(context.Background(), "bob", "bob@example.com", "tok"); err != nil {
		t.Fatalf("SendReset: %v", err)
	}
	if !strings.Contains(rec.body, "http://localhost:5555/api/users/-/password/reset/?jwt=tok") {
		t.Errorf("body = %s", rec.body)
	}
}

func TestSendNewUserNotice(t *testing.T) {
	rec := &recordingSender{}
	svc := NewService(mapConfig{}, rec)

	owners := []string{"o1@example.com", "o2@example.com"}
	if err := svc.SendNewUserNotice(context.Background(), owners, "carol", "Carol C", "carol@example.com", "t1"); err != nil {
		t.Fatalf("SendNewUserNotice: %v", err)
	}
	if len(rec.to) != 2 {
		t.Errorf("to = %v", rec.to)
	}
	for _, want := range []string{"carol", "Carol C", "carol@example.com", "t1"} {
		if !strings.Contains(rec.body, want) {
			t.Errorf("body missing %q:\n%s", want, rec.body)
		}
	}

	// No owners means nothing to send, not an error.
	rec2 := &recordingSender{}
	svc2 := NewService(mapConfig{}, rec2)
	if err := svc2.SendNewUserNotice(context.Background(), nil, "x", "", "", ""); err != nil {
		t.Fatalf("SendNewUserNotice without owners: %v", err)
	}
	if rec2.to != nil {
		t.Errorf("unexpected send to %v", rec2.to)
	}
}
