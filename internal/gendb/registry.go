package gendb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var treeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Registry manages open tree databases, keyed by tree ID. Trees are opened
// lazily on first access; with an empty data directory every tree lives
// in memory, which the tests rely on.
type Registry struct {
	dataDir string

	mu     sync.Mutex
	active map[string]*Tree
}

// NewRegistry creates a registry rooted at dataDir. Pass empty string for
// in-memory trees.
func NewRegistry(dataDir string) *Registry {
	return &Registry{
		dataDir: dataDir,
		active:  make(map[string]*Tree),
	}
}

// Get returns the tree database for the given ID, opening it on first use.
func (r *Registry) Get(treeID string) (*Tree, error) {
	if !treeIDPattern.MatchString(treeID) {
		return nil, fmt.Errorf("invalid tree id %q", treeID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.active[treeID]; ok {
		return t, nil
	}

	dsn := ":memory:?_journal_mode=WAL"
	if r.dataDir != "" {
		dir := filepath.Join(r.dataDir, "trees", treeID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create tree dir: %w", err)
		}
		dsn = filepath.Join(dir, "tree.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	t, err := openTree(treeID, dsn)
	if err != nil {
		return nil, err
	}
	r.active[treeID] = t
	return t, nil
}

// ListTrees returns the IDs of all currently open trees.
func (r *Registry) ListTrees() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Ping checks every open tree database.
func (r *Registry) Ping(ctx context.Context) map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]error, len(r.active))
	for id, t := range r.active {
		out[id] = t.Ping(ctx)
	}
	return out
}

// CloseAll closes every open tree database.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.active {
		t.Close()
		delete(r.active, id)
	}
}
