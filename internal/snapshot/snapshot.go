// Package snapshot stores zip snapshots of workspace trees in an object
// backend under "<workspace id>/<UTC timestamp>.zip".
package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/archive"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/sandbox"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/storage"
)

const nameLayout = "20060102T150405.000Z"

// Snapshot describes a stored snapshot.
type Snapshot struct {
	WorkspaceID string    `json:"server_id"`
	Name        string    `json:"name"`
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service writes and reads snapshots.
type Service struct {
	backend storage.Backend
	tmpDir  string
	now     func() time.Time
}

// New returns a Service storing into backend. Archives are spooled in
// tmpDir (the system default when empty) so their size is known before
// upload.
func New(backend storage.Backend, tmpDir string) *Service {
	return &Service{backend: backend, tmpDir: tmpDir, now: time.Now}
}

// Backend returns the backend type.
func (s *Service) Backend() string { return s.backend.Type() }

// Create archives root and stores it as a new snapshot of workspaceID.
func (s *Service) Create(ctx context.Context, workspaceID string, root sandbox.Path) (snap *Snapshot, err error) {
	defer func() {
		var size int64
		if snap != nil {
			size = snap.Size
		}
		metrics.RecordSnapshot(size, err == nil)
	}()

	tmp, err := os.CreateTemp(s.tmpDir, "panel-snapshot-*.zip")
	if err != nil {
		return nil, fserr.FromOS("create", "snapshot spool", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := archive.ExportZip(ctx, root, tmp); err != nil {
		return nil, err
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fserr.FromOS("seek", "snapshot spool", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fserr.FromOS("seek", "snapshot spool", err)
	}

	created := s.now().UTC()
	name := created.Format(nameLayout) + ".zip"
	key := path.Join(workspaceID, name)
	if err := s.backend.PutObject(ctx, key, tmp, size); err != nil {
		return nil, fmt.Errorf("%w: store snapshot: %w", fserr.ErrIO, err)
	}

	logging.Info("snapshot stored",
		zap.String("server_id", workspaceID),
		zap.String("key", key),
		zap.Int64("size", size),
		zap.String("backend", s.backend.Type()))
	return &Snapshot{WorkspaceID: workspaceID, Name: name, Key: key, Size: size, CreatedAt: created}, nil
}

// List returns the snapshots of workspaceID, oldest first.
func (s *Service) List(ctx context.Context, workspaceID string) ([]Snapshot, error) {
	objs, err := s.backend.ListObjects(ctx, workspaceID+"/")
	if err != nil {
		return nil, fmt.Errorf("%w: list snapshots: %w", fserr.ErrIO, err)
	}
	out := make([]Snapshot, 0, len(objs))
	for _, o := range objs {
		name := path.Base(o.Key)
		created, err := time.Parse(nameLayout, strings.TrimSuffix(name, ".zip"))
		if err != nil {
			created = o.LastModified
		}
		out = append(out, Snapshot{WorkspaceID: workspaceID, Name: name, Key: o.Key, Size: o.Size, CreatedAt: created})
	}
	return out, nil
}

// Open streams a stored snapshot. The caller closes the reader.
func (s *Service) Open(ctx context.Context, workspaceID, name string) (io.ReadCloser, int64, error) {
	key, err := snapshotKey(workspaceID, name)
	if err != nil {
		return nil, 0, err
	}
	rc, size, err := s.backend.GetObject(ctx, key)
	if err != nil {
		if fserr.KindOf(err) == fserr.KindNotFound {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: open snapshot: %w", fserr.ErrIO, err)
	}
	return rc, size, nil
}

// Delete removes a stored snapshot.
func (s *Service) Delete(ctx context.Context, workspaceID, name string) error {
	key, err := snapshotKey(workspaceID, name)
	if err != nil {
		return err
	}
	if err := s.backend.DeleteObject(ctx, key); err != nil {
		return fmt.Errorf("%w: delete snapshot: %w", fserr.ErrIO, err)
	}
	return nil
}

func snapshotKey(workspaceID, name string) (string, error) {
	if err := sandbox.ValidateName(workspaceID); err != nil {
		return "", err
	}
	if err := sandbox.ValidateName(name); err != nil {
		return "", err
	}
	if !strings.HasSuffix(name, ".zip") {
		return "", fserr.InvalidPath("snapshot %q is not a .zip", name)
	}
	return path.Join(workspaceID, name), nil
}
