package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/arborhq/arbor/internal/auth"
	"github.com/arborhq/arbor/internal/email"
	"github.com/arborhq/arbor/internal/export"
	"github.com/arborhq/arbor/internal/gendb"
	"github.com/arborhq/arbor/internal/media"
	"github.com/arborhq/arbor/internal/model"
	"github.com/arborhq/arbor/internal/search"
	"github.com/arborhq/arbor/internal/server"
	"github.com/arborhq/arbor/internal/tasks"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// recordedTask is one task dispatched during a test.
type recordedTask struct {
	Type    string
	Payload []byte
}

// recordingRunner wraps the inline runner, remembering every dispatch.
type recordingRunner struct {
	inner tasks.Runner

	mu   sync.Mutex
	runs []recordedTask
}

func (r *recordingRunner) Run(ctx context.Context, taskType string, payload interface{}) (*model.TaskRef, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.runs = append(r.runs, recordedTask{Type: taskType, Payload: data})
	r.mu.Unlock()
	return r.inner.Run(ctx, taskType, payload)
}

func (r *recordingRunner) count(taskType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, run := range r.runs {
		if run.Type == taskType {
			n++
		}
	}
	return n
}

func (r *recordingRunner) last(t *testing.T, taskType string, v interface{}) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.runs) - 1; i >= 0; i-- {
		if r.runs[i].Type == taskType {
			if err := json.Unmarshal(r.runs[i].Payload, v); err != nil {
				t.Fatalf("decode %s payload: %v", taskType, err)
			}
			return
		}
	}
	t.Fatalf("no %s task was dispatched", taskType)
}

// recordingSender captures outgoing mail instead of delivering it.
type recordingSender struct {
	mu   sync.Mutex
	sent []string // subjects
}

func (s *recordingSender) Send(_ context.Context, _ []string, subject, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, subject)
	return nil
}

// testEnv runs the full router over in-memory stores.
type testEnv struct {
	store   *auth.Store
	auth    *auth.Service
	trees   *gendb.Registry
	storage *media.LocalStorage
	runner  *recordingRunner
	sender  *recordingSender
	srv     *server.Server

	downloadDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := auth.NewStore("")
	if err != nil {
		t.Fatalf("auth.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	authSvc := auth.NewService(store, testJWTSecret, time.Minute)
	trees := gendb.NewRegistry("")
	t.Cleanup(trees.CloseAll)

	downloadDir := t.TempDir()
	storage := media.NewLocalStorage(t.TempDir())
	indexer := search.NewIndexer(trees)
	exporter := export.NewExporter(trees, downloadDir)
	sender := &recordingSender{}
	mail := email.NewService(store, sender)
	runner := &recordingRunner{
		inner: tasks.NewInlineRunner(tasks.NewExecutors(mail, indexer, exporter, trees)),
	}

	cfg := server.DefaultConfig()
	cfg.DownloadDir = downloadDir
	cfg.ImportDir = t.TempDir()
	cfg.DisableRateLimits = true

	srv := server.New(cfg, server.Deps{
		AuthSvc: authSvc,
		Trees:   trees,
		Storage: storage,
		Faces:   media.NewFaceService(nil, nil),
		Indexer: indexer,
		Runner:  runner,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &testEnv{
		store:       store,
		auth:        authSvc,
		trees:       trees,
		storage:     storage,
		runner:      runner,
		sender:      sender,
		srv:         srv,
		downloadDir: downloadDir,
	}
}

// seedUser creates a user and returns it with a fresh session token.
func (e *testEnv) seedUser(t *testing.T, name string, role int, tree string) (*model.User, string) {
	t.Helper()
	u, err := e.store.AddUser(context.Background(), auth.AddUserParams{
		Name:     name,
		Password: testPassword,
		FullName: "Test " + name,
		Email:    name + "@example.com",
		Role:     role,
		Tree:     tree,
	})
	if err != nil {
		t.Fatalf("seedUser %s: %v", name, err)
	}
	token, err := e.auth.IssueSession(u.ID, u.Tree)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	return u, token
}

// seedMedia adds a media object and its file content to a tree.
func (e *testEnv) seedMedia(t *testing.T, treeID, handle, content, mime string, storage bool) *model.Media {
	t.Helper()
	tree, err := e.trees.Get(treeID)
	if err != nil {
		t.Fatalf("trees.Get: %v", err)
	}
	sum, data, err := media.Checksum(bytes.NewReader([]byte(content)))
	if err != nil {
		t.Fatalf("Checksum: %v", err)
	}
	m := &model.Media{
		Handle:   handle,
		Path:     media.DefaultFilename(sum, mime),
		MIME:     mime,
		Checksum: sum,
	}
	if err := tree.AddMedia(context.Background(), m); err != nil {
		t.Fatalf("AddMedia: %v", err)
	}
	if storage {
		if err := e.storage.Save(treeID, m.Path, bytes.NewReader(data)); err != nil {
			t.Fatalf("storage.Save: %v", err)
		}
	}
	return m
}

// do executes a request against the router.
func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.srv.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
