package search

import (
	"context"
	"testing"

	"github.com/arborhq/arbor/internal/gendb"
	"github.com/arborhq/arbor/internal/model"
)

func newTestIndexer(t *testing.T) (*Indexer, *gendb.Tree) {
	t.Helper()
	reg := gendb.NewRegistry("")
	t.Cleanup(reg.CloseAll)
	tree, err := reg.Get("t1")
	if err != nil {
		t.Fatalf("Registry.Get: %v", err)
	}
	return NewIndexer(reg), tree
}

func TestReindexFullReplacesIndex(t *testing.T) {
	ix, tree := newTestIndexer(t)
	ctx := context.Background()

	// A stale entry for an object that no longer exists.
	if err := tree.UpsertSearchEntry(ctx, "ghost", "media", "stale"); err != nil {
		t.Fatalf("UpsertSearchEntry: %v", err)
	}

	for _, h := range []string{"m1", "m2"} {
		if err := tree.AddMedia(ctx, &model.Media{Handle: h, Path: h + ".jpg", MIME: "image/jpeg"}); err != nil {
			t.Fatalf("AddMedia: %v", err)
		}
	}

	if err := ix.ReindexFull(ctx, "t1"); err != nil {
		t.Fatalf("ReindexFull: %v", err)
	}
	n, err := tree.CountSearchEntries(ctx)
	if err != nil {
		t.Fatalf("CountSearchEntries: %v", err)
	}
	if n != 2 {
		t.Errorf("entries = %d, want 2 (stale entry must be gone)", n)
	}
}

func TestReindexIncrementalKeepsExistingEntries(t *testing.T) {
	ix, tree := newTestIndexer(t)
	ctx := context.Background()

	if err := tree.UpsertSearchEntry(ctx, "other", "note", "kept"); err != nil {
		t.Fatalf("UpsertSearchEntry: %v", err)
	}
	if err := tree.AddMedia(ctx, &model.Media{Handle: "m1", Path: "m1.jpg"}); err != nil {
		t.Fatalf("AddMedia: %v", err)
	}

	if err := ix.ReindexIncremental(ctx, "t1"); err != nil {
		t.Fatalf("ReindexIncremental: %v", err)
	}
	n, _ := tree.CountSearchEntries(ctx)
	if n != 2 {
		t.Errorf("entries = %d, want 2", n)
	}
}

func TestIndexObject(t *testing.T) {
	ix, tree := newTestIndexer(t)
	ctx := context.Background()

	m := model.Media{Handle: "m1", Path: "Photo.JPG", Desc: "Grandma"}
	if err := ix.IndexObject(ctx, "t1", m); err != nil {
		t.Fatalf("IndexObject: %v", err)
	}
	// Indexing the same object twice keeps a single entry.
	if err := ix.IndexObject(ctx, "t1", m); err != nil {
		t.Fatalf("IndexObject: %v", err)
	}
	n, _ := tree.CountSearchEntries(ctx)
	if n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
}

func TestReindexRejectsBadTree(t *testing.T) {
	ix, _ := newTestIndexer(t)
	if err := ix.ReindexFull(context.Background(), "../bad"); err == nil {
		t.Error("bad tree id should fail")
	}
}
