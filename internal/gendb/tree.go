package gendb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/arborhq/arbor/internal/model"
)

// ErrNotFound is returned when an object handle does not exist in a tree
// database.
var ErrNotFound = errors.New("object not found")

// Tree is a connection to a single tree database. The genealogy object
// model itself is owned by an external engine; this wrapper exposes only
// the accessors the API layer needs (media objects and reindex iteration).
type Tree struct {
	id string
	db *sqlx.DB
}

func openTree(id, dsn string) (*Tree, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open tree database %q: %w", id, err)
	}
	db.SetMaxOpenConns(1)

	t := &Tree{id: id, db: db}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tree database %q: %w", id, err)
	}
	return t, nil
}

func (t *Tree) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS media (
			handle TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			mime TEXT NOT NULL DEFAULT '',
			checksum TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS search_index (
			handle TEXT PRIMARY KEY,
			class TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			indexed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, m := range migrations {
		if _, err := t.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// ID returns the tree identifier.
func (t *Tree) ID() string {
	return t.id
}

// Ping checks database reachability.
func (t *Tree) Ping(ctx context.Context) error {
	return t.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (t *Tree) Close() error {
	return t.db.Close()
}

// GetMedia returns a media object by handle.
func (t *Tree) GetMedia(ctx context.Context, handle string) (*model.Media, error) {
	var m model.Media
	err := t.db.GetContext(ctx, &m,
		"SELECT handle, path, mime, checksum, description, created_at, updated_at FROM media WHERE handle = ?",
		handle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get media: %w", err)
	}
	return &m, nil
}

// AddMedia inserts a new media object row.
func (t *Tree) AddMedia(ctx context.Context, m *model.Media) error {
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO media (handle, path, mime, checksum, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Handle, m.Path, m.MIME, m.Checksum, m.Desc, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert media: %w", err)
	}
	return nil
}

// UpdateMedia replaces the file-related fields of a media object in a
// single transaction and returns the change-log document (old and new row
// snapshots). Fails with ErrNotFound for an unknown handle.
func (t *Tree) UpdateMedia(ctx context.Context, handle, path, mime, checksum string) (*model.MediaChange, error) {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var old model.Media
	err = tx.GetContext(ctx, &old,
		"SELECT handle, path, mime, checksum, description, created_at, updated_at FROM media WHERE handle = ?",
		handle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get media for update: %w", err)
	}

	updated := old
	updated.Path = path
	updated.MIME = mime
	updated.Checksum = checksum
	updated.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		"UPDATE media SET path = ?, mime = ?, checksum = ?, updated_at = ? WHERE handle = ?",
		updated.Path, updated.MIME, updated.Checksum, updated.UpdatedAt, handle)
	if err != nil {
		return nil, fmt.Errorf("update media: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit media update: %w", err)
	}
	return &model.MediaChange{Old: old, New: updated}, nil
}

// ForEachMedia calls fn for every media object in the tree, in handle
// order. Used by the search indexer.
func (t *Tree) ForEachMedia(ctx context.Context, fn func(model.Media) error) error {
	rows, err := t.db.QueryxContext(ctx,
		"SELECT handle, path, mime, checksum, description, created_at, updated_at FROM media ORDER BY handle")
	if err != nil {
		return fmt.Errorf("iterate media: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m model.Media
		if err := rows.StructScan(&m); err != nil {
			return fmt.Errorf("scan media: %w", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ClearSearchIndex removes every row from the search index.
func (t *Tree) ClearSearchIndex(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, "DELETE FROM search_index"); err != nil {
		return fmt.Errorf("clear search index: %w", err)
	}
	return nil
}

// UpsertSearchEntry creates or refreshes one search index row.
func (t *Tree) UpsertSearchEntry(ctx context.Context, handle, class, content string) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO search_index (handle, class, content, indexed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(handle) DO UPDATE SET class = excluded.class, content = excluded.content, indexed_at = excluded.indexed_at`,
		handle, class, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert search entry: %w", err)
	}
	return nil
}

// CountSearchEntries returns the number of indexed objects.
func (t *Tree) CountSearchEntries(ctx context.Context) (int, error) {
	var n int
	if err := t.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM search_index"); err != nil {
		return 0, fmt.Errorf("count search entries: %w", err)
	}
	return n, nil
}
