// Package gateway is the operation surface of the panel: every workspace
// and file operation a client can request, each taking the caller's
// Principal explicitly.
package gateway

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/archive"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/auth"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/events"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fileops"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/snapshot"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/workspace"
)

// Option configures a Service.
type Option func(*Service)

// WithSnapshots enables snapshot operations.
func WithSnapshots(s *snapshot.Service) Option {
	return func(g *Service) { g.snapshots = s }
}

// WithExtractLimits bounds every unarchive.
func WithExtractLimits(opts archive.ExtractOptions) Option {
	return func(g *Service) { g.extract = opts }
}

// Service implements the workspace operations.
type Service struct {
	workspaces *workspace.Store
	events     events.Publisher
	snapshots  *snapshot.Service
	extract    archive.ExtractOptions
}

// New creates a Service. pub may be nil.
func New(workspaces *workspace.Store, pub events.Publisher, opts ...Option) *Service {
	if pub == nil {
		pub = events.Discard{}
	}
	s := &Service{workspaces: workspaces, events: pub}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SnapshotsEnabled reports whether a snapshot backend is configured.
func (s *Service) SnapshotsEnabled() bool { return s.snapshots != nil }

// UnarchiveResult describes a finished unarchive.
type UnarchiveResult struct {
	Destination string `json:"destination"`
	Files       int    `json:"files"`
	Dirs        int    `json:"dirs"`
	Bytes       int64  `json:"bytes"`
}

func check(p auth.Principal) error {
	if !p.Valid() {
		return fmt.Errorf("%w: no authenticated principal", fserr.ErrUnauthenticated)
	}
	return nil
}

func (s *Service) workspace(ctx context.Context, p auth.Principal, id string) (*workspace.Workspace, error) {
	if err := check(p); err != nil {
		return nil, err
	}
	return s.workspaces.Get(ctx, id)
}

func (s *Service) publish(p auth.Principal, typ, id, rel string, size int64) {
	s.events.Publish(events.Event{
		Type:        typ,
		WorkspaceID: id,
		Path:        rel,
		Size:        size,
		Actor:       p.Username(),
	})
}

// ListWorkspaces returns every workspace, oldest first.
func (s *Service) ListWorkspaces(ctx context.Context, p auth.Principal) ([]*workspace.Workspace, error) {
	if err := check(p); err != nil {
		return nil, err
	}
	return s.workspaces.List(ctx)
}

// CreateWorkspace provisions a workspace with display name name.
func (s *Service) CreateWorkspace(ctx context.Context, p auth.Principal, name string) (*workspace.Workspace, error) {
	if err := check(p); err != nil {
		return nil, err
	}
	ws, err := s.workspaces.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	s.publish(p, events.EventWorkspaceCreate, ws.ID, "", 0)
	return ws, nil
}

// DeleteWorkspace removes a workspace record and its tree.
func (s *Service) DeleteWorkspace(ctx context.Context, p auth.Principal, id string) error {
	if err := check(p); err != nil {
		return err
	}
	if err := s.workspaces.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(p, events.EventWorkspaceDelete, id, "", 0)
	return nil
}

// ListFiles lists the directory at rel.
func (s *Service) ListFiles(ctx context.Context, p auth.Principal, id, rel string) ([]fileops.DirectoryEntry, error) {
	ws, err := s.workspace(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return fileops.List(ctx, ws, rel)
}

// SearchFiles finds entries below rel whose path matches pattern.
func (s *Service) SearchFiles(ctx context.Context, p auth.Principal, id, rel, pattern string, limit int) (*fileops.SearchResult, error) {
	ws, err := s.workspace(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return fileops.Search(ctx, ws, rel, pattern, limit)
}

// CreateFolder creates name under rel and returns its relative path.
func (s *Service) CreateFolder(ctx context.Context, p auth.Principal, id, rel, name string) (string, error) {
	ws, err := s.workspace(ctx, p, id)
	if err != nil {
		return "", err
	}
	target, err := fileops.CreateFolder(ctx, ws, rel, name)
	if err != nil {
		return "", err
	}
	s.publish(p, events.EventCreate, id, target.Rel(), 0)
	return target.Rel(), nil
}

// DeleteFile removes the file or directory at rel.
func (s *Service) DeleteFile(ctx context.Context, p auth.Principal, id, rel string) error {
	ws, err := s.workspace(ctx, p, id)
	if err != nil {
		return err
	}
	target, err := fileops.Delete(ctx, ws, rel)
	if err != nil {
		return err
	}
	s.publish(p, events.EventDelete, id, target.Rel(), 0)
	return nil
}

// UploadFiles writes every item from src into the directory at rel.
func (s *Service) UploadFiles(ctx context.Context, p auth.Principal, id, rel string, src fileops.ItemSource) ([]fileops.ItemResult, error) {
	ws, err := s.workspace(ctx, p, id)
	if err != nil {
		return nil, err
	}
	results, err := fileops.Ingest(ctx, ws, rel, src)
	for _, r := range results {
		if r.Err == nil {
			s.publish(p, events.EventCreate, id, r.Path, r.Size)
		}
	}
	return results, err
}

// DownloadFile opens the file at rel, or a zip stream if it is a directory.
func (s *Service) DownloadFile(ctx context.Context, p auth.Principal, id, rel string) (*fileops.Download, error) {
	ws, err := s.workspace(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return fileops.Open(ctx, ws, rel)
}

// Unarchive extracts the zip at rel into a folder named after it at the
// workspace root: "uploads/world.zip" unpacks into "world".
func (s *Service) Unarchive(ctx context.Context, p auth.Principal, id, rel string) (*UnarchiveResult, error) {
	ws, err := s.workspace(ctx, p, id)
	if err != nil {
		return nil, err
	}
	src, err := ws.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(src.Abs())
	if err != nil {
		return nil, fserr.FromOS("stat", src.Rel(), err)
	}
	if !info.Mode().IsRegular() {
		return nil, fserr.InvalidPath("%s is not a file", src.Rel())
	}
	stem, err := archive.DestinationName(src.Base())
	if err != nil {
		return nil, err
	}
	dest, err := fileops.CreateFolder(ctx, ws, "", stem)
	if err != nil {
		return nil, err
	}

	stats, err := archive.ExtractZip(ctx, src, dest, s.extract)
	if err != nil {
		return nil, err
	}
	logging.Info("archive extracted",
		zap.String("server_id", id),
		zap.String("archive", src.Rel()),
		zap.String("destination", dest.Rel()),
		zap.Int("files", stats.Files))
	s.publish(p, events.EventCreate, id, dest.Rel(), stats.Bytes)
	return &UnarchiveResult{
		Destination: dest.Rel(),
		Files:       stats.Files,
		Dirs:        stats.Dirs,
		Bytes:       stats.Bytes,
	}, nil
}

func (s *Service) snapshotService() (*snapshot.Service, error) {
	if s.snapshots == nil {
		return nil, fserr.NotFound("snapshots are not enabled")
	}
	return s.snapshots, nil
}

// CreateSnapshot stores a zip of the workspace root.
func (s *Service) CreateSnapshot(ctx context.Context, p auth.Principal, id string) (*snapshot.Snapshot, error) {
	ws, err := s.workspace(ctx, p, id)
	if err != nil {
		return nil, err
	}
	snaps, err := s.snapshotService()
	if err != nil {
		return nil, err
	}
	root, err := ws.Resolve("")
	if err != nil {
		return nil, err
	}
	snap, err := snaps.Create(ctx, id, root)
	if err != nil {
		return nil, err
	}
	s.publish(p, events.EventSnapshot, id, path.Base(snap.Key), snap.Size)
	return snap, nil
}

// ListSnapshots lists the stored snapshots of a workspace.
func (s *Service) ListSnapshots(ctx context.Context, p auth.Principal, id string) ([]snapshot.Snapshot, error) {
	if _, err := s.workspace(ctx, p, id); err != nil {
		return nil, err
	}
	snaps, err := s.snapshotService()
	if err != nil {
		return nil, err
	}
	return snaps.List(ctx, id)
}

// OpenSnapshot streams a stored snapshot. The caller closes the reader.
func (s *Service) OpenSnapshot(ctx context.Context, p auth.Principal, id, name string) (io.ReadCloser, int64, error) {
	if _, err := s.workspace(ctx, p, id); err != nil {
		return nil, 0, err
	}
	snaps, err := s.snapshotService()
	if err != nil {
		return nil, 0, err
	}
	return snaps.Open(ctx, id, name)
}

// DeleteSnapshot removes a stored snapshot.
func (s *Service) DeleteSnapshot(ctx context.Context, p auth.Principal, id, name string) error {
	if _, err := s.workspace(ctx, p, id); err != nil {
		return err
	}
	snaps, err := s.snapshotService()
	if err != nil {
		return err
	}
	return snaps.Delete(ctx, id, name)
}
