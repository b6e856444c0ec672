package fileops

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/sandbox"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

// testRoot is a workspace root backed by a temp dir.
type testRoot string

func (r testRoot) Resolve(rel string) (sandbox.Path, error) {
	return sandbox.Resolve(string(r), rel)
}

func (r testRoot) ResolveNoFollow(rel string) (sandbox.Path, error) {
	return sandbox.ResolveNoFollow(string(r), rel)
}

func newRoot(t *testing.T) (testRoot, string) {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return testRoot(dir), dir
}

// sliceSource feeds fixed items to Ingest.
type sliceSource struct {
	items []*UploadItem
	err   error
}

func (s *sliceSource) Next() (*UploadItem, error) {
	if len(s.items) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	it := s.items[0]
	s.items = s.items[1:]
	return it, nil
}

func items(pairs ...string) *sliceSource {
	s := &sliceSource{}
	for i := 0; i+1 < len(pairs); i += 2 {
		s.items = append(s.items, &UploadItem{Name: pairs[i], Body: strings.NewReader(pairs[i+1])})
	}
	return s
}

func TestUploadListDownload(t *testing.T) {
	root, _ := newRoot(t)
	ctx := context.Background()

	results, err := Ingest(ctx, root, "", items("a.txt", "hello"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, int64(5), results[0].Size)
	assert.Equal(t, "a.txt", results[0].Path)

	entries, err := List(ctx, root, "")
	require.NoError(t, err)
	assert.Equal(t, []DirectoryEntry{{Name: "a.txt", Kind: KindFile, RelativePath: "a.txt"}}, entries)

	d, err := Open(ctx, root, "a.txt")
	require.NoError(t, err)
	defer d.Body.Close()
	assert.False(t, d.Archive)
	assert.Equal(t, int64(5), d.Size)
	assert.Equal(t, "a.txt", d.Name)
	assert.True(t, strings.HasPrefix(d.ContentType, "text/plain"), d.ContentType)
	got, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestListNested(t *testing.T) {
	root, dir := newRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "world", "region"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "world", "level.dat"), nil, 0o644))

	entries, err := List(context.Background(), root, "world")
	require.NoError(t, err)
	assert.Equal(t, []DirectoryEntry{
		{Name: "level.dat", Kind: KindFile, RelativePath: "world/level.dat"},
		{Name: "region", Kind: KindDirectory, RelativePath: "world/region"},
	}, entries)
}

func TestListSkipsDanglingSymlink(t *testing.T) {
	root, dir := newRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok"), nil, 0o644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, "broken")))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "real"), filepath.Join(dir, "alias")))

	entries, err := List(context.Background(), root, "")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
		if e.Name == "alias" {
			assert.Equal(t, KindDirectory, e.Kind)
		}
	}
	assert.Equal(t, []string{"alias", "ok", "real"}, names)
}

func TestListHidesStagingFiles(t *testing.T) {
	root, dir := newRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.jar"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".panel-7781.partial"), []byte("half"), 0o644))

	entries, err := List(context.Background(), root, "")
	require.NoError(t, err)
	assert.Equal(t, []DirectoryEntry{
		{Name: "server.jar", Kind: KindFile, RelativePath: "server.jar"},
	}, entries)
}

func TestIngestRejectsStagingName(t *testing.T) {
	root, dir := newRoot(t)
	results, err := Ingest(context.Background(), root, "", items(".panel-1.partial", "x"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, fserr.ErrInvalidPath)
	assert.NoFileExists(t, filepath.Join(dir, ".panel-1.partial"))
}

func TestListErrors(t *testing.T) {
	root, dir := newRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0o644))

	_, err := List(context.Background(), root, "missing")
	assert.ErrorIs(t, err, fserr.ErrNotFound)

	_, err = List(context.Background(), root, "../..")
	assert.ErrorIs(t, err, fserr.ErrInvalidPath)

	_, err = List(context.Background(), root, "file")
	assert.ErrorIs(t, err, fserr.ErrInvalidPath)
}

func TestCreateFolder(t *testing.T) {
	root, dir := newRoot(t)
	ctx := context.Background()

	p, err := CreateFolder(ctx, root, "plugins/new", "config")
	require.NoError(t, err)
	assert.Equal(t, "plugins/new/config", p.Rel())
	assert.DirExists(t, filepath.Join(dir, "plugins", "new", "config"))

	_, err = CreateFolder(ctx, root, "plugins/new", "config")
	assert.NoError(t, err, "creating an existing folder is not an error")

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "../x"} {
		_, err := CreateFolder(ctx, root, "", name)
		assert.ErrorIs(t, err, fserr.ErrInvalidPath, "name %q", name)
	}

	_, err = CreateFolder(ctx, root, "../", "x")
	assert.ErrorIs(t, err, fserr.ErrInvalidPath)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "taken"), nil, 0o644))
	_, err = CreateFolder(ctx, root, "", "taken")
	assert.ErrorIs(t, err, fserr.ErrConflict)
}

func TestDelete(t *testing.T) {
	root, dir := newRoot(t)
	ctx := context.Background()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "world", "region"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "world", "region", "r.mca"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	_, err := Delete(ctx, root, "a.txt")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "a.txt"))

	_, err = Delete(ctx, root, "world")
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "world"))

	_, err = Delete(ctx, root, "world")
	assert.ErrorIs(t, err, fserr.ErrNotFound)
}

func TestDeleteRootIsConflict(t *testing.T) {
	root, dir := newRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep"), nil, 0o644))

	for _, rel := range []string{"", ".", "world/..", dir} {
		_, err := Delete(context.Background(), root, rel)
		assert.ErrorIs(t, err, fserr.ErrConflict, "rel %q", rel)
	}
	assert.FileExists(t, filepath.Join(dir, "keep"))
}

func TestDeleteSymlinkKeepsTarget(t *testing.T) {
	root, dir := newRoot(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "precious"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	_, err := Delete(context.Background(), root, "link")
	require.NoError(t, err)
	_, err = os.Lstat(filepath.Join(dir, "link"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.FileExists(t, filepath.Join(outside, "precious"))
}

func TestDeleteCancelled(t *testing.T) {
	root, dir := newRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tree", "sub"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Delete(ctx, root, "tree")
	assert.ErrorIs(t, err, context.Canceled)
	assert.DirExists(t, filepath.Join(dir, "tree"))
}

func TestIngestPerItemResults(t *testing.T) {
	root, dir := newRoot(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "plugins"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "plugins", "dir.jar"), 0o755))

	src := items(
		"good.jar", "jar",
		"../escape.jar", "bad",
		"dir.jar", "clash",
		"also-good.jar", "jar2",
	)
	results, err := Ingest(context.Background(), root, "plugins", src)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, fserr.ErrInvalidPath)
	assert.Equal(t, fserr.KindInvalidPath, results[1].Kind)
	assert.ErrorIs(t, results[2].Err, fserr.ErrConflict)
	assert.NoError(t, results[3].Err)
	assert.True(t, Failed(results))

	got, err := os.ReadFile(filepath.Join(dir, "plugins", "also-good.jar"))
	require.NoError(t, err)
	assert.Equal(t, "jar2", string(got))
	assert.NoFileExists(t, filepath.Join(dir, "escape.jar"))

	leftovers, err := filepath.Glob(filepath.Join(dir, "plugins", ".panel-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestIngestCreatesDestination(t *testing.T) {
	root, dir := newRoot(t)
	_, err := Ingest(context.Background(), root, "mods/new", items("m.jar", "x"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "mods", "new", "m.jar"))

	_, err = Ingest(context.Background(), root, "../outside", items("m.jar", "x"))
	assert.ErrorIs(t, err, fserr.ErrInvalidPath)
}

// failingReader returns some bytes and then an error.
type failingReader struct{ sent bool }

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.sent {
		f.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("connection reset")
}

func TestIngestRemovesPartialFile(t *testing.T) {
	root, dir := newRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "world.dat"), []byte("original"), 0o644))

	src := &sliceSource{items: []*UploadItem{{Name: "world.dat", Body: &failingReader{}}}}
	results, err := Ingest(context.Background(), root, "", src)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, fserr.ErrIO)

	got, err := os.ReadFile(filepath.Join(dir, "world.dat"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(got), "failed upload must not truncate the existing file")

	leftovers, _ := filepath.Glob(filepath.Join(dir, ".panel-*"))
	assert.Empty(t, leftovers)
}

func TestIngestSourceError(t *testing.T) {
	root, _ := newRoot(t)
	src := items("a", "1")
	src.err = errors.New("malformed multipart")

	results, err := Ingest(context.Background(), root, "", src)
	require.Error(t, err)
	assert.Len(t, results, 1)
}

func TestDownloadDirectoryIsZip(t *testing.T) {
	root, dir := newRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "world", "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "world", "level.dat"), []byte("lvl"), 0o644))

	d, err := Open(context.Background(), root, "world")
	require.NoError(t, err)
	defer d.Body.Close()
	assert.True(t, d.Archive)
	assert.Equal(t, "world.zip", d.Name)
	assert.Equal(t, "application/zip", d.ContentType)

	data, err := io.ReadAll(d.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"empty/", "level.dat"}, names)
}

func TestDownloadErrors(t *testing.T) {
	root, _ := newRoot(t)
	_, err := Open(context.Background(), root, "nope")
	assert.ErrorIs(t, err, fserr.ErrNotFound)

	_, err = Open(context.Background(), root, "/etc/passwd")
	assert.ErrorIs(t, err, fserr.ErrInvalidPath)
}
