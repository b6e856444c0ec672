// Package postgres provides a PostgreSQL-backed record store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metadata"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS servers (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		path        TEXT NOT NULL,
		backup_path TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS operators (
		id         BIGSERIAL PRIMARY KEY,
		username   TEXT NOT NULL UNIQUE,
		password   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Store is a PostgreSQL record store.
type Store struct {
	db *sql.DB
}

var _ metadata.Store = (*Store)(nil)

// New creates a new PostgreSQL record store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration %d: %w", i, err)
		}
	}
	logging.Info("postgres schema ready")
	return nil
}

// InsertWorkspace stores a new workspace row.
func (s *Store) InsertWorkspace(ctx context.Context, row *metadata.WorkspaceRow) error {
	defer observe("insert_workspace", time.Now())
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO servers (id, name, path, backup_path) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		row.ID, row.Name, row.RootPath, row.BackupPath).Scan(&row.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workspace %s: %w", row.ID, metadata.ErrExists)
		}
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

// GetWorkspace returns a workspace row by id.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*metadata.WorkspaceRow, error) {
	defer observe("get_workspace", time.Now())
	var w metadata.WorkspaceRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, backup_path, created_at FROM servers WHERE id = $1`, id).
		Scan(&w.ID, &w.Name, &w.RootPath, &w.BackupPath, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workspace %s: %w", id, metadata.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return &w, nil
}

// ListWorkspaces returns every workspace row.
func (s *Store) ListWorkspaces(ctx context.Context) ([]*metadata.WorkspaceRow, error) {
	defer observe("list_workspaces", time.Now())
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, backup_path, created_at FROM servers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	var out []*metadata.WorkspaceRow
	for rows.Next() {
		var w metadata.WorkspaceRow
		if err := rows.Scan(&w.ID, &w.Name, &w.RootPath, &w.BackupPath, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// DeleteWorkspace removes a workspace row.
func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	defer observe("delete_workspace", time.Now())
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("workspace %s: %w", id, metadata.ErrNotFound)
	}
	return nil
}

// InsertOperator stores a new operator.
func (s *Store) InsertOperator(ctx context.Context, username, passwordHash string) (*metadata.OperatorRow, error) {
	defer observe("insert_operator", time.Now())
	op := metadata.OperatorRow{Username: username, PasswordHash: passwordHash}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO operators (username, password) VALUES ($1, $2) RETURNING id, created_at`,
		username, passwordHash).Scan(&op.ID, &op.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("operator %s: %w", username, metadata.ErrExists)
		}
		return nil, fmt.Errorf("insert operator: %w", err)
	}
	return &op, nil
}

// GetOperator returns an operator by username.
func (s *Store) GetOperator(ctx context.Context, username string) (*metadata.OperatorRow, error) {
	defer observe("get_operator", time.Now())
	var op metadata.OperatorRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password, created_at FROM operators WHERE username = $1`, username).
		Scan(&op.ID, &op.Username, &op.PasswordHash, &op.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operator %s: %w", username, metadata.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get operator: %w", err)
	}
	return &op, nil
}

// CountOperators returns the number of operators.
func (s *Store) CountOperators(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count operators: %w", err)
	}
	return n, nil
}

// UpdateConnectionMetrics exports pool statistics.
func (s *Store) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(s.db.Stats().OpenConnections)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func observe(query string, start time.Time) {
	metrics.RecordDBQuery("postgres", query, time.Since(start))
}
