package gateway

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/archive"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/auth"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/events"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fileops"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metadata/sqlite"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/snapshot"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/storage/local"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/workspace"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

var operator = auth.Internal("test")

type recorder struct{ events []events.Event }

func (r *recorder) Publish(e events.Event) { r.events = append(r.events, e) }

func (r *recorder) types() []string {
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type uploads struct {
	items []*fileops.UploadItem
}

func (u *uploads) Next() (*fileops.UploadItem, error) {
	if len(u.items) == 0 {
		return nil, io.EOF
	}
	it := u.items[0]
	u.items = u.items[1:]
	return it, nil
}

func upload(name, content string) *uploads {
	return &uploads{items: []*fileops.UploadItem{{Name: name, Body: strings.NewReader(content)}}}
}

func newService(t *testing.T, opts ...Option) (*Service, *recorder) {
	t.Helper()
	records, err := sqlite.Open(filepath.Join(t.TempDir(), "panel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	store, err := workspace.New(t.TempDir(), records)
	require.NoError(t, err)

	rec := &recorder{}
	return New(store, rec, opts...), rec
}

func TestRequiresPrincipal(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	var nobody auth.Principal

	_, err := s.ListWorkspaces(ctx, nobody)
	assert.ErrorIs(t, err, fserr.ErrUnauthenticated)
	_, err = s.CreateWorkspace(ctx, nobody, "x")
	assert.ErrorIs(t, err, fserr.ErrUnauthenticated)
	_, err = s.ListFiles(ctx, nobody, "any", "")
	assert.ErrorIs(t, err, fserr.ErrUnauthenticated)
	_, err = s.UploadFiles(ctx, nobody, "any", "", upload("a.txt", "x"))
	assert.ErrorIs(t, err, fserr.ErrUnauthenticated)

	list, err := s.ListWorkspaces(ctx, operator)
	require.NoError(t, err)
	assert.Empty(t, list, "rejected create must not provision anything")
}

func TestWorkspaceLifecycle(t *testing.T) {
	s, rec := newService(t)
	ctx := context.Background()

	ws, err := s.CreateWorkspace(ctx, operator, "survival")
	require.NoError(t, err)

	list, err := s.ListWorkspaces(ctx, operator)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "survival", list[0].Name)

	require.NoError(t, s.DeleteWorkspace(ctx, operator, ws.ID))
	assert.NoDirExists(t, ws.RootPath)

	err = s.DeleteWorkspace(ctx, operator, ws.ID)
	assert.ErrorIs(t, err, fserr.ErrNotFound)
	_, err = s.ListFiles(ctx, operator, ws.ID, "")
	assert.ErrorIs(t, err, fserr.ErrNotFound)

	assert.Equal(t, []string{events.EventWorkspaceCreate, events.EventWorkspaceDelete}, rec.types())
	assert.Equal(t, "internal:test", rec.events[0].Actor)
}

func TestFileOperations(t *testing.T) {
	s, rec := newService(t)
	ctx := context.Background()
	ws, err := s.CreateWorkspace(ctx, operator, "creative")
	require.NoError(t, err)

	results, err := s.UploadFiles(ctx, operator, ws.ID, "", upload("a.txt", "hello"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)

	entries, err := s.ListFiles(ctx, operator, ws.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []fileops.DirectoryEntry{{Name: "a.txt", Kind: fileops.KindFile, RelativePath: "a.txt"}}, entries)

	dl, err := s.DownloadFile(ctx, operator, ws.ID, "a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(dl.Body)
	dl.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	rel, err := s.CreateFolder(ctx, operator, ws.ID, "", "plugins")
	require.NoError(t, err)
	assert.Equal(t, "plugins", rel)

	_, err = s.CreateFolder(ctx, operator, ws.ID, "../..", "x")
	assert.ErrorIs(t, err, fserr.ErrInvalidPath)

	err = s.DeleteFile(ctx, operator, ws.ID, "")
	assert.ErrorIs(t, err, fserr.ErrConflict)
	assert.DirExists(t, ws.RootPath)

	require.NoError(t, s.DeleteFile(ctx, operator, ws.ID, "a.txt"))
	assert.NoFileExists(t, filepath.Join(ws.RootPath, "a.txt"))

	assert.Equal(t, []string{
		events.EventWorkspaceCreate,
		events.EventCreate,
		events.EventCreate,
		events.EventDelete,
	}, rec.types())
}

func TestSearchFiles(t *testing.T) {
	s, rec := newService(t)
	ctx := context.Background()
	ws, err := s.CreateWorkspace(ctx, operator, "modded")
	require.NoError(t, err)
	_, err = s.UploadFiles(ctx, operator, ws.ID, "mods", upload("jei.jar", "x"))
	require.NoError(t, err)

	res, err := s.SearchFiles(ctx, operator, ws.ID, "", "**/*.jar", 0)
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "mods/jei.jar", res.Matches[0].RelativePath)

	_, err = s.SearchFiles(ctx, auth.Principal{}, ws.ID, "", "*", 0)
	assert.ErrorIs(t, err, fserr.ErrUnauthenticated)

	assert.Equal(t, []string{events.EventWorkspaceCreate, events.EventCreate}, rec.types(),
		"search publishes nothing")
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestUnarchive(t *testing.T) {
	s, _ := newService(t, WithExtractLimits(archive.ExtractOptions{MaxFiles: 10}))
	ctx := context.Background()
	ws, err := s.CreateWorkspace(ctx, operator, "modded")
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(ws.RootPath, "uploads"), 0o755))
	writeZip(t, filepath.Join(ws.RootPath, "uploads", "World.ZIP"), map[string]string{
		"level.dat":        "lvl",
		"region/r.0.0.mca": "chunk",
	})

	res, err := s.Unarchive(ctx, operator, ws.ID, "uploads/World.ZIP")
	require.NoError(t, err)
	assert.Equal(t, "World", res.Destination)
	assert.Equal(t, 2, res.Files)

	got, err := os.ReadFile(filepath.Join(ws.RootPath, "World", "region", "r.0.0.mca"))
	require.NoError(t, err)
	assert.Equal(t, "chunk", string(got))
}

func TestUnarchiveRejects(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	ws, err := s.CreateWorkspace(ctx, operator, "modded")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(ws.RootPath, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(ws.RootPath, "dir.zip"), 0o755))
	writeZip(t, filepath.Join(ws.RootPath, "evil.zip"), map[string]string{"../escape.txt": "x"})

	_, err = s.Unarchive(ctx, operator, ws.ID, "notes.txt")
	assert.ErrorIs(t, err, fserr.ErrInvalidPath)
	_, err = s.Unarchive(ctx, operator, ws.ID, "dir.zip")
	assert.ErrorIs(t, err, fserr.ErrInvalidPath)
	_, err = s.Unarchive(ctx, operator, ws.ID, "missing.zip")
	assert.ErrorIs(t, err, fserr.ErrNotFound)
	_, err = s.Unarchive(ctx, operator, ws.ID, "../../x.zip")
	assert.ErrorIs(t, err, fserr.ErrInvalidPath)

	_, err = s.Unarchive(ctx, operator, ws.ID, "evil.zip")
	assert.ErrorIs(t, err, fserr.ErrExtractionFailed)
	assert.NoFileExists(t, filepath.Join(ws.RootPath, "escape.txt"))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(ws.RootPath), "escape.txt"))
}

func TestSnapshotsDisabled(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	ws, err := s.CreateWorkspace(ctx, operator, "x")
	require.NoError(t, err)

	assert.False(t, s.SnapshotsEnabled())
	_, err = s.CreateSnapshot(ctx, operator, ws.ID)
	assert.ErrorIs(t, err, fserr.ErrNotFound)
}

func TestSnapshots(t *testing.T) {
	backend, err := local.New(local.Config{RootPath: filepath.Join(t.TempDir(), "snaps"), CreateDirs: true})
	require.NoError(t, err)
	s, rec := newService(t, WithSnapshots(snapshot.New(backend, t.TempDir())))
	ctx := context.Background()

	ws, err := s.CreateWorkspace(ctx, operator, "x")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(ws.RootPath, "eula.txt"), []byte("eula=true"), 0o644))

	snap, err := s.CreateSnapshot(ctx, operator, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, ws.ID, snap.WorkspaceID)

	list, err := s.ListSnapshots(ctx, operator, ws.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, snap.Name, list[0].Name)

	rc, size, err := s.OpenSnapshot(ctx, operator, ws.ID, snap.Name)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, snap.Size, size)

	require.NoError(t, s.DeleteSnapshot(ctx, operator, ws.ID, snap.Name))
	_, _, err = s.OpenSnapshot(ctx, operator, ws.ID, snap.Name)
	assert.ErrorIs(t, err, fserr.ErrNotFound)

	_, err = s.ListSnapshots(ctx, operator, "missing")
	assert.ErrorIs(t, err, fserr.ErrNotFound)

	assert.Contains(t, rec.types(), events.EventSnapshot)
}
