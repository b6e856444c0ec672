// Package metadata defines the record store behind workspaces and operators.
//
// The filesystem tree of a workspace is not stored here, only the mapping
// from workspace id to its directories. Implementations live in the
// postgres and sqlite subpackages.
package metadata

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("record not found")

	// ErrExists is returned when inserting a duplicate key.
	ErrExists = errors.New("record already exists")
)

// WorkspaceRow maps to the servers table.
type WorkspaceRow struct {
	ID         string
	Name       string
	RootPath   string
	BackupPath string
	CreatedAt  time.Time
}

// OperatorRow maps to the operators table.
type OperatorRow struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Store is the record store consumed by the workspace and auth packages.
type Store interface {
	// InsertWorkspace stores a new row. Returns ErrExists on a duplicate id.
	InsertWorkspace(ctx context.Context, row *WorkspaceRow) error

	// GetWorkspace returns the row for id or ErrNotFound.
	GetWorkspace(ctx context.Context, id string) (*WorkspaceRow, error)

	// ListWorkspaces returns all rows ordered by creation time.
	ListWorkspaces(ctx context.Context) ([]*WorkspaceRow, error)

	// DeleteWorkspace removes the row for id. Returns ErrNotFound if no row
	// was deleted, so two concurrent deletes cannot both succeed.
	DeleteWorkspace(ctx context.Context, id string) error

	// InsertOperator stores a new operator. Returns ErrExists on a
	// duplicate username.
	InsertOperator(ctx context.Context, username, passwordHash string) (*OperatorRow, error)

	// GetOperator returns the operator by username or ErrNotFound.
	GetOperator(ctx context.Context, username string) (*OperatorRow, error)

	// CountOperators returns the number of operators.
	CountOperators(ctx context.Context) (int, error)

	// Close releases the underlying connection pool.
	Close() error
}
