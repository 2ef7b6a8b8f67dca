package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arborhq/arbor/internal/gendb"
	"github.com/arborhq/arbor/internal/model"
)

// Indexer maintains the per-tree search index.
type Indexer struct {
	trees *gendb.Registry
}

func NewIndexer(trees *gendb.Registry) *Indexer {
	return &Indexer{trees: trees}
}

// ReindexFull drops and rebuilds the search index of a tree.
func (ix *Indexer) ReindexFull(ctx context.Context, treeID string) error {
	tree, err := ix.trees.Get(treeID)
	if err != nil {
		return err
	}
	if err := tree.ClearSearchIndex(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	n, err := ix.indexMedia(ctx, tree)
	if err != nil {
		return err
	}
	slog.Info("reindex complete", "tree", treeID, "objects", n)
	return nil
}

// ReindexIncremental refreshes index entries in place without dropping
// the index first.
func (ix *Indexer) ReindexIncremental(ctx context.Context, treeID string) error {
	tree, err := ix.trees.Get(treeID)
	if err != nil {
		return err
	}
	n, err := ix.indexMedia(ctx, tree)
	if err != nil {
		return err
	}
	slog.Info("incremental reindex complete", "tree", treeID, "objects", n)
	return nil
}

// IndexObject refreshes the entry for a single object, used after writes.
func (ix *Indexer) IndexObject(ctx context.Context, treeID string, m model.Media) error {
	tree, err := ix.trees.Get(treeID)
	if err != nil {
		return err
	}
	return tree.UpsertSearchEntry(ctx, m.Handle, "media", mediaContent(m))
}

func (ix *Indexer) indexMedia(ctx context.Context, tree *gendb.Tree) (int, error) {
	n := 0
	err := tree.ForEachMedia(ctx, func(m model.Media) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tree.UpsertSearchEntry(ctx, m.Handle, "media", mediaContent(m)); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("index media: %w", err)
	}
	return n, nil
}

// mediaContent flattens the searchable text of a media object.
func mediaContent(m model.Media) string {
	parts := []string{m.Desc, m.Path, m.MIME}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.ToLower(strings.Join(out, " "))
}
