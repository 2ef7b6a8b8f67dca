package handler_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/arborhq/arbor/internal/handler"
	"github.com/arborhq/arbor/internal/model"
)

func TestTaskStatusWithoutQueue(t *testing.T) {
	env := newTestEnv(t)
	_, member := env.seedUser(t, "member", model.RoleMember, "t1")

	// No queue backend: handles never exist.
	rr := env.do(t, "GET", "/api/tasks/some-id", member, nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestSearchReindex(t *testing.T) {
	env := newTestEnv(t)
	_, owner := env.seedUser(t, "owner", model.RoleOwner, "t1")
	_, member := env.seedUser(t, "member", model.RoleMember, "t1")
	env.seedMedia(t, "t1", "m1", "content-1", "image/jpeg", false)
	env.seedMedia(t, "t1", "m2", "content-2", "image/jpeg", false)

	t.Run("member cannot trigger", func(t *testing.T) {
		rr := env.do(t, "POST", "/api/search/reindex/", member, nil)
		assertStatus(t, rr, http.StatusForbidden)
	})

	t.Run("inline reindex completes before the response", func(t *testing.T) {
		rr := env.do(t, "POST", "/api/search/reindex/?full=1", owner, nil)
		assertStatus(t, rr, http.StatusCreated)
		if rr.Body.Len() != 0 {
			t.Errorf("inline dispatch returned a body: %s", rr.Body.String())
		}

		tree, _ := env.trees.Get("t1")
		n, err := tree.CountSearchEntries(context.Background())
		if err != nil {
			t.Fatalf("CountSearchEntries: %v", err)
		}
		if n != 2 {
			t.Errorf("index entries = %d, want 2", n)
		}
	})
}

func TestExportDownloadImportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	_, ownerA := env.seedUser(t, "owner-a", model.RoleOwner, "treeA")
	_, ownerB := env.seedUser(t, "owner-b", model.RoleOwner, "treeB")
	env.seedMedia(t, "treeA", "m1", "content-1", "image/jpeg", false)
	env.seedMedia(t, "treeA", "m2", "content-2", "image/png", false)

	// Export treeA; the inline runner writes the dump before returning.
	rr := env.do(t, "POST", "/api/exporters/json/file", ownerA, nil)
	assertStatus(t, rr, http.StatusCreated)

	entries, err := os.ReadDir(env.downloadDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("download dir entries = %v, err = %v", entries, err)
	}
	name := entries[0].Name()

	// The artifact is downloadable through the API.
	rr = env.do(t, "GET", "/api/downloads/"+name, ownerA, nil)
	assertStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"m1"`) {
		t.Errorf("download is missing exported objects: %s", rr.Body.String())
	}

	t.Run("path escapes are refused", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/downloads/..%2fsecret", ownerA, nil)
		if rr.Code != http.StatusNotFound && rr.Code != http.StatusBadRequest &&
			rr.Code != http.StatusMovedPermanently {
			t.Errorf("status = %d, want rejection", rr.Code)
		}
	})

	// Import the dump into treeB as its owner.
	dump, err := os.ReadFile(filepath.Join(env.downloadDir, name))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	req := httptest.NewRequest("POST", "/api/importers/json/file", bytes.NewReader(dump))
	req.Header.Set("Authorization", "Bearer "+ownerB)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusCreated)

	treeB, _ := env.trees.Get("treeB")
	if _, err := treeB.GetMedia(context.Background(), "m1"); err != nil {
		t.Errorf("imported object missing from treeB: %v", err)
	}
	if _, err := treeB.GetMedia(context.Background(), "m2"); err != nil {
		t.Errorf("imported object missing from treeB: %v", err)
	}
}

func TestImportRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	_, member := env.seedUser(t, "member", model.RoleMember, "t1")

	rr := env.do(t, "POST", "/api/importers/json/file", member, bytes.NewReader([]byte("{}")))
	assertStatus(t, rr, http.StatusForbidden)
}

func TestReportGeneration(t *testing.T) {
	env := newTestEnv(t)
	_, owner := env.seedUser(t, "owner", model.RoleOwner, "t1")
	env.seedMedia(t, "t1", "m1", "content", "image/jpeg", false)

	rr := env.do(t, "POST", "/api/reports/summary/file", owner, nil)
	assertStatus(t, rr, http.StatusCreated)

	entries, err := os.ReadDir(env.downloadDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("download dir entries = %v, err = %v", entries, err)
	}
	data, err := os.ReadFile(filepath.Join(env.downloadDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), "Report: summary") {
		t.Errorf("report content:\n%s", data)
	}
}

// stubRunner simulates a queue backend by always returning a handle.
type stubRunner struct{}

func (stubRunner) Run(context.Context, string, interface{}) (*model.TaskRef, error) {
	return &model.TaskRef{ID: "abc123", Href: "/api/tasks/abc123"}, nil
}

func TestQueuedDispatchReturnsTaskHandle(t *testing.T) {
	h := handler.NewSearchHandler(stubRunner{}, "default")
	r := chi.NewRouter()
	r.Post("/api/search/reindex/", h.Reindex)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("POST", "/api/search/reindex/", nil))
	assertStatus(t, rr, http.StatusAccepted)

	var resp model.TaskResponse
	decodeJSON(t, rr, &resp)
	if resp.Task.ID != "abc123" || resp.Task.Href != "/api/tasks/abc123" {
		t.Errorf("task handle = %+v", resp.Task)
	}
}
