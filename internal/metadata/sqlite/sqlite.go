// Package sqlite provides a SQLite-backed record store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metadata"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
)

const defaultBusyTimeout = 5000

// schemaStatements are executed in order. All use IF NOT EXISTS so
// migration can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS servers (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		path        TEXT NOT NULL,
		backup_path TEXT NOT NULL,
		created_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS operators (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		username   TEXT NOT NULL UNIQUE,
		password   TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
}

// Store is a SQLite record store.
type Store struct {
	db *sql.DB
}

var _ metadata.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
//
// The database uses WAL mode, a 5 s busy timeout and a single connection
// since SQLite serialises writes anyway.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertWorkspace stores a new workspace row.
func (s *Store) InsertWorkspace(ctx context.Context, row *metadata.WorkspaceRow) error {
	defer observe("insert_workspace", time.Now())
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO servers (id, name, path, backup_path, created_at) VALUES (?, ?, ?, ?, ?)`,
		row.ID, row.Name, row.RootPath, row.BackupPath, row.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workspace %s: %w", row.ID, metadata.ErrExists)
		}
		return fmt.Errorf("sqlite: insert workspace: %w", err)
	}
	return nil
}

// GetWorkspace returns a workspace row by id.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*metadata.WorkspaceRow, error) {
	defer observe("get_workspace", time.Now())
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, backup_path, created_at FROM servers WHERE id = ?`, id)
	w, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workspace %s: %w", id, metadata.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get workspace: %w", err)
	}
	return w, nil
}

// ListWorkspaces returns every workspace row.
func (s *Store) ListWorkspaces(ctx context.Context) ([]*metadata.WorkspaceRow, error) {
	defer observe("list_workspaces", time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, backup_path, created_at FROM servers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*metadata.WorkspaceRow
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan workspace: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}
	return out, nil
}

// DeleteWorkspace removes a workspace row.
func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	defer observe("delete_workspace", time.Now())
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete workspace: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("workspace %s: %w", id, metadata.ErrNotFound)
	}
	return nil
}

// InsertOperator stores a new operator.
func (s *Store) InsertOperator(ctx context.Context, username, passwordHash string) (*metadata.OperatorRow, error) {
	defer observe("insert_operator", time.Now())
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO operators (username, password, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, now.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("operator %s: %w", username, metadata.ErrExists)
		}
		return nil, fmt.Errorf("sqlite: insert operator: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlite: last insert id: %w", err)
	}
	return &metadata.OperatorRow{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: now}, nil
}

// GetOperator returns an operator by username.
func (s *Store) GetOperator(ctx context.Context, username string) (*metadata.OperatorRow, error) {
	defer observe("get_operator", time.Now())
	var (
		op      metadata.OperatorRow
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password, created_at FROM operators WHERE username = ?`, username).
		Scan(&op.ID, &op.Username, &op.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operator %s: %w", username, metadata.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get operator: %w", err)
	}
	op.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &op, nil
}

// CountOperators returns the number of operators.
func (s *Store) CountOperators(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count operators: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(sc scanner) (*metadata.WorkspaceRow, error) {
	var (
		w       metadata.WorkspaceRow
		created string
	)
	if err := sc.Scan(&w.ID, &w.Name, &w.RootPath, &w.BackupPath, &created); err != nil {
		return nil, err
	}
	w.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &w, nil
}

// isUniqueViolation matches the driver's constraint error text; the
// modernc driver does not export a typed code for it.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: PRIMARY KEY")
}

func observe(query string, start time.Time) {
	metrics.RecordDBQuery("sqlite", query, time.Since(start))
}
