// Package workspace maps workspace ids to their directory trees.
//
// Each workspace owns <base>/<id>/root (the tree clients see) and
// <base>/<id>/backup (reserved). The directories are named after the id,
// never after the display name.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metadata"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/sandbox"
)

const (
	rootDirName   = "root"
	backupDirName = "backup"

	maxDisplayName = 255
)

// Workspace is a provisioned server workspace.
type Workspace struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	RootPath   string    `json:"path"`
	BackupPath string    `json:"backupPath"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Resolve resolves rel against the workspace root.
func (w *Workspace) Resolve(rel string) (sandbox.Path, error) {
	return sandbox.Resolve(w.RootPath, rel)
}

// ResolveNoFollow resolves rel against the workspace root without following
// a final symlink.
func (w *Workspace) ResolveNoFollow(rel string) (sandbox.Path, error) {
	return sandbox.ResolveNoFollow(w.RootPath, rel)
}

// Store creates, deletes and looks up workspaces.
type Store struct {
	base    string
	records metadata.Store
	locks   *keyedMutex
}

// New returns a Store rooted at base, creating the directory if needed.
func New(base string, records metadata.Store) (*Store, error) {
	if !filepath.IsAbs(base) {
		return nil, fmt.Errorf("base path %q is not absolute", base)
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("create base path %s: %w", base, err)
	}
	canon, err := filepath.EvalSymlinks(base)
	if err != nil {
		return nil, fmt.Errorf("resolve base path %s: %w", base, err)
	}
	return &Store{base: canon, records: records, locks: newKeyedMutex()}, nil
}

// Base returns the canonical base directory.
func (s *Store) Base() string { return s.base }

// Create provisions a new workspace with a fresh id. The directories are
// created before the record; if either step fails nothing is left behind.
func (s *Store) Create(ctx context.Context, name string) (*Workspace, error) {
	name = strings.TrimSpace(name)
	if err := validateDisplayName(name); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	unlock := s.locks.Lock(id)
	defer unlock()

	dir := filepath.Join(s.base, id)
	ws := &Workspace{
		ID:         id,
		Name:       name,
		RootPath:   filepath.Join(dir, rootDirName),
		BackupPath: filepath.Join(dir, backupDirName),
	}

	if err := os.Mkdir(dir, 0o750); err != nil {
		metrics.RecordWorkspaceOp("create", false)
		if errors.Is(err, os.ErrExist) {
			return nil, fserr.Conflict("workspace directory %s already exists", id)
		}
		return nil, fserr.FromOS("create workspace", id, err)
	}
	for _, d := range []string{ws.RootPath, ws.BackupPath} {
		if err := os.Mkdir(d, 0o755); err != nil {
			s.discard(dir)
			metrics.RecordWorkspaceOp("create", false)
			return nil, fserr.FromOS("create workspace", id, err)
		}
	}

	row := &metadata.WorkspaceRow{
		ID:         ws.ID,
		Name:       ws.Name,
		RootPath:   ws.RootPath,
		BackupPath: ws.BackupPath,
	}
	if err := s.records.InsertWorkspace(ctx, row); err != nil {
		s.discard(dir)
		metrics.RecordWorkspaceOp("create", false)
		if errors.Is(err, metadata.ErrExists) {
			return nil, fserr.Conflict("workspace %s already exists", id)
		}
		return nil, fmt.Errorf("%w: store workspace record: %w", fserr.ErrIO, err)
	}
	ws.CreatedAt = row.CreatedAt

	metrics.RecordWorkspaceOp("create", true)
	logging.Info("workspace created", zap.String("id", id), zap.String("name", name))
	return ws, nil
}

// Delete removes the record, then the directory tree. A tree that cannot be
// removed is reported as an IO error; the record stays deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	ws, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.records.DeleteWorkspace(ctx, id); err != nil {
		metrics.RecordWorkspaceOp("delete", false)
		if errors.Is(err, metadata.ErrNotFound) {
			return fserr.NotFound("workspace %s", id)
		}
		return fmt.Errorf("%w: delete workspace record: %w", fserr.ErrIO, err)
	}

	dir := filepath.Dir(ws.RootPath)
	if dir == s.base || !sandbox.Within(s.base, dir) {
		metrics.RecordWorkspaceOp("delete", false)
		metrics.RecordOrphanedWorkspace()
		logging.Error("workspace record pointed outside the base directory",
			zap.String("id", id), zap.String("path", dir))
		return fmt.Errorf("%w: workspace %s tree %s is outside %s", fserr.ErrIO, id, dir, s.base)
	}
	if err := os.RemoveAll(dir); err != nil {
		metrics.RecordWorkspaceOp("delete", false)
		metrics.RecordOrphanedWorkspace()
		logging.Error("workspace tree orphaned",
			zap.String("id", id), zap.String("path", dir), zap.Error(err))
		return fmt.Errorf("%w: workspace %s deleted but its tree was not removed: %w", fserr.ErrIO, id, err)
	}

	metrics.RecordWorkspaceOp("delete", true)
	logging.Info("workspace deleted", zap.String("id", id))
	return nil
}

// Get returns the workspace with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Workspace, error) {
	row, err := s.records.GetWorkspace(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, fserr.NotFound("workspace %s", id)
		}
		return nil, fmt.Errorf("%w: load workspace: %w", fserr.ErrIO, err)
	}
	return fromRow(row), nil
}

// List returns all workspaces.
func (s *Store) List(ctx context.Context) ([]*Workspace, error) {
	rows, err := s.records.ListWorkspaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list workspaces: %w", fserr.ErrIO, err)
	}
	out := make([]*Workspace, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (s *Store) discard(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logging.Warn("failed to remove partial workspace", zap.String("path", dir), zap.Error(err))
	}
}

func fromRow(r *metadata.WorkspaceRow) *Workspace {
	return &Workspace{
		ID:         r.ID,
		Name:       r.Name,
		RootPath:   r.RootPath,
		BackupPath: r.BackupPath,
		CreatedAt:  r.CreatedAt,
	}
}

func validateDisplayName(name string) error {
	switch {
	case name == "":
		return fserr.InvalidPath("workspace name is empty")
	case !utf8.ValidString(name):
		return fserr.InvalidPath("workspace name is not valid UTF-8")
	case strings.ContainsRune(name, 0):
		return fserr.InvalidPath("workspace name contains a NUL byte")
	case len(name) > maxDisplayName:
		return fserr.InvalidPath("workspace name longer than %d bytes", maxDisplayName)
	}
	return nil
}
