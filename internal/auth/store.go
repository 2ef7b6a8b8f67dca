package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/arborhq/arbor/internal/model"
)

// Store is the credential store: the users table and the runtime
// configuration table, backed by SQLite by default or by PostgreSQL/MySQL
// when given a matching DSN. All mutating operations run in a single
// statement or transaction; partial writes never surface.
type Store struct {
	db *sqlx.DB
}

// NewStore opens the auth database. Pass empty string for in-memory SQLite,
// a file path for on-disk SQLite, or a postgres:// or mysql:// DSN.
func NewStore(dsn string) (*Store, error) {
	driver, connStr := resolveDriver(dsn)

	db, err := sqlx.Connect(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("open auth database: %w", err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate auth database: %w", err)
	}
	return s, nil
}

func resolveDriver(dsn string) (driver, connStr string) {
	switch {
	case dsn == "":
		return "sqlite", ":memory:?_journal_mode=WAL"
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn
	case strings.HasPrefix(dsn, "mysql://"):
		return "mysql", strings.TrimPrefix(dsn, "mysql://")
	default:
		return "sqlite", dsn + "?_journal_mode=WAL&_busy_timeout=5000"
	}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, name, COALESCE(email, '') AS email,
	COALESCE(fullname, '') AS fullname, pwhash, role, COALESCE(tree, '') AS tree`

// ---------------------------------------------------------------------------
// User CRUD
// ---------------------------------------------------------------------------

// AddUserParams carries the fields for a new user record.
type AddUserParams struct {
	Name     string
	Password string
	FullName string
	Email    string
	Role     int
	Tree     string
}

// AddUser creates a new user and returns the stored record with its
// generated GUID. Fails with ErrInvalidArgument for an empty name or
// password and with ErrDuplicate when the username or email is taken.
func (s *Store) AddUser(ctx context.Context, p AddUserParams) (*model.User, error) {
	if p.Name == "" || p.Password == "" {
		return nil, ErrInvalidArgument
	}
	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, err
	}

	u := model.User{
		ID:       uuid.NewString(),
		Name:     p.Name,
		Email:    p.Email,
		FullName: p.FullName,
		PwHash:   hash,
		Role:     p.Role,
		Tree:     p.Tree,
	}

	// Empty email and tree are stored as NULL so the unique constraint on
	// email doesn't collide for users without one.
	q := s.db.Rebind(`INSERT INTO users (id, name, email, fullname, pwhash, role, tree)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?, NULLIF(?, ''))`)
	if _, err := s.db.ExecContext(ctx, q, u.ID, u.Name, u.Email, u.FullName, u.PwHash, u.Role, u.Tree); err != nil {
		if isDuplicateErr(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

// GetUser returns a user by username.
func (s *Store) GetUser(ctx context.Context, name string) (*model.User, error) {
	var u model.User
	q := s.db.Rebind("SELECT " + userColumns + " FROM users WHERE name = ?")
	if err := s.db.GetContext(ctx, &u, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByID returns a user by GUID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	q := s.db.Rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

// GetGUID returns the GUID of a user by username.
func (s *Store) GetGUID(ctx context.Context, name string) (string, error) {
	var id string
	q := s.db.Rebind("SELECT id FROM users WHERE name = ?")
	if err := s.db.GetContext(ctx, &id, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get user guid: %w", err)
	}
	return id, nil
}

// GetName returns the username of a user by GUID.
func (s *Store) GetName(ctx context.Context, id string) (string, error) {
	var name string
	q := s.db.Rebind("SELECT name FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &name, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get user name: %w", err)
	}
	return name, nil
}

// GetTree returns the tree of a user by GUID. An empty string means the
// user has no tree assigned.
func (s *Store) GetTree(ctx context.Context, id string) (string, error) {
	var tree string
	q := s.db.Rebind("SELECT COALESCE(tree, '') FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &tree, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get user tree: %w", err)
	}
	return tree, nil
}

// ListUsers returns all users. When tree is non-empty, the result is limited
// to that tree's users plus users with no tree assigned.
func (s *Store) ListUsers(ctx context.Context, tree string) ([]model.User, error) {
	var users []model.User
	if tree == "" {
		q := "SELECT " + userColumns + " FROM users ORDER BY name"
		if err := s.db.SelectContext(ctx, &users, q); err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		return users, nil
	}
	q := s.db.Rebind("SELECT " + userColumns +
		" FROM users WHERE tree = ? OR COALESCE(tree, '') = '' ORDER BY name")
	if err := s.db.SelectContext(ctx, &users, q, tree); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UserUpdate carries the optional fields for ModifyUser. Nil fields are
// left unchanged.
type UserUpdate struct {
	NewName  *string
	Password *string
	FullName *string
	Email    *string
	Role     *int
	Tree     *string
}

// ModifyUser updates any subset of a user's mutable fields in a single
// statement. Fails with ErrNotFound if the username is unknown.
func (s *Store) ModifyUser(ctx context.Context, name string, upd UserUpdate) error {
	id, err := s.GetGUID(ctx, name)
	if err != nil {
		return err
	}

	var (
		sets []string
		args []interface{}
	)
	if upd.NewName != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.NewName)
	}
	if upd.Password != nil {
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return err
		}
		sets = append(sets, "pwhash = ?")
		args = append(args, hash)
	}
	if upd.FullName != nil {
		sets = append(sets, "fullname = ?")
		args = append(args, *upd.FullName)
	}
	if upd.Email != nil {
		sets = append(sets, "email = NULLIF(?, '')")
		args = append(args, *upd.Email)
	}
	if upd.Role != nil {
		sets = append(sets, "role = ?")
		args = append(args, *upd.Role)
	}
	if upd.Tree != nil {
		sets = append(sets, "tree = NULLIF(?, '')")
		args = append(args, *upd.Tree)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	q := s.db.Rebind("UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// DeleteUser removes a user by username. Fails with ErrNotFound if the
// username is unknown.
func (s *Store) DeleteUser(ctx context.Context, name string) error {
	q := s.db.Rebind("DELETE FROM users WHERE name = ?")
	result, err := s.db.ExecContext(ctx, q, name)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PwHash returns the current password hash of a user. Used for embedding a
// credential snapshot in one-time reset tokens.
func (s *Store) PwHash(ctx context.Context, name string) (string, error) {
	var hash string
	q := s.db.Rebind("SELECT pwhash FROM users WHERE name = ?")
	if err := s.db.GetContext(ctx, &hash, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get pwhash: %w", err)
	}
	return hash, nil
}

// UserFilter narrows CountUsers. A nil Tree means any tree; an empty Roles
// slice means any role.
type UserFilter struct {
	Tree  *string
	Roles []int
}

// CountUsers returns the number of users matching the filter. Used for
// first-run detection and the registration bootstrap guard.
func (s *Store) CountUsers(ctx context.Context, f UserFilter) (int, error) {
	q := "SELECT COUNT(*) FROM users"
	var (
		conds []string
		args  []interface{}
	)
	if f.Tree != nil {
		conds = append(conds, "COALESCE(tree, '') = ?")
		args = append(args, *f.Tree)
	}
	if len(f.Roles) > 0 {
		in, inArgs, err := sqlx.In("role IN (?)", f.Roles)
		if err != nil {
			return 0, fmt.Errorf("count users: %w", err)
		}
		conds = append(conds, in)
		args = append(args, inArgs...)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(q), args...); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// OwnerEmails returns the email addresses of all owners of a tree that have
// one on file.
func (s *Store) OwnerEmails(ctx context.Context, tree string) ([]string, error) {
	var emails []string
	q := s.db.Rebind(`SELECT email FROM users
		WHERE role = ? AND COALESCE(tree, '') = ? AND COALESCE(email, '') != ''
		ORDER BY email`)
	if err := s.db.SelectContext(ctx, &emails, q, model.RoleOwner, tree); err != nil {
		return nil, fmt.Errorf("owner emails: %w", err)
	}
	return emails, nil
}

// FillTree assigns the given tree to every user whose tree is currently
// NULL or empty. Used once when partitioning a previously single-tree
// deployment.
func (s *Store) FillTree(ctx context.Context, tree string) error {
	q := s.db.Rebind("UPDATE users SET tree = ? WHERE COALESCE(tree, '') = ''")
	if _, err := s.db.ExecContext(ctx, q, tree); err != nil {
		return fmt.Errorf("fill tree: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Configuration table
// ---------------------------------------------------------------------------

// ConfigGet returns a single configuration value. Fails with ErrNotFound
// when the key has never been set.
func (s *Store) ConfigGet(ctx context.Context, key string) (string, error) {
	var value string
	q := s.db.Rebind("SELECT value FROM configuration WHERE key = ?")
	if err := s.db.GetContext(ctx, &value, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get config: %w", err)
	}
	return value, nil
}

// ConfigGetAll returns every stored configuration entry.
func (s *Store) ConfigGetAll(ctx context.Context) (map[string]string, error) {
	var entries []model.ConfigEntry
	if err := s.db.SelectContext(ctx, &entries, "SELECT key, value FROM configuration"); err != nil {
		return nil, fmt.Errorf("get all config: %w", err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

// ConfigSet creates or updates a configuration entry. Keys outside the
// allow-list are rejected with ErrInvalidArgument.
func (s *Store) ConfigSet(ctx context.Context, key, value string) error {
	if !model.AllowedConfigKeys[key] {
		return ErrInvalidArgument
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing string
	q := tx.Rebind("SELECT value FROM configuration WHERE key = ?")
	err = tx.GetContext(ctx, &existing, q, key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		q = tx.Rebind("INSERT INTO configuration (key, value) VALUES (?, ?)")
		if _, err := tx.ExecContext(ctx, q, key, value); err != nil {
			return fmt.Errorf("insert config: %w", err)
		}
	case err != nil:
		return fmt.Errorf("set config: %w", err)
	default:
		q = tx.Rebind("UPDATE configuration SET value = ? WHERE key = ?")
		if _, err := tx.ExecContext(ctx, q, value, key); err != nil {
			return fmt.Errorf("update config: %w", err)
		}
	}

	return tx.Commit()
}

// ConfigDelete removes a configuration entry. Deleting an absent key is a
// no-op.
func (s *Store) ConfigDelete(ctx context.Context, key string) error {
	q := s.db.Rebind("DELETE FROM configuration WHERE key = ?")
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	return nil
}

// isDuplicateErr reports whether err is a unique-constraint violation from
// any of the supported engines.
func isDuplicateErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
