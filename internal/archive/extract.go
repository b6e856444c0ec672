package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/ctxio"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/sandbox"
)

// ExtractOptions bounds what a single extraction may write. Zero means
// unlimited.
type ExtractOptions struct {
	MaxFiles int
	MaxBytes int64
}

// ExtractStats describes a finished extraction.
type ExtractStats struct {
	Files int
	Dirs  int
	Bytes int64
}

// DestinationName validates an archive's nominal name and returns the
// folder name it unpacks into: "world.zip" becomes "world".
func DestinationName(archiveName string) (string, error) {
	ext := filepath.Ext(archiveName)
	if !strings.EqualFold(ext, ".zip") {
		return "", fserr.InvalidPath("%q is not a .zip archive", archiveName)
	}
	stem := strings.TrimSuffix(archiveName, ext)
	if err := sandbox.ValidateName(stem); err != nil {
		return "", fserr.InvalidPath("%q has no usable name", archiveName)
	}
	return stem, nil
}

// ExtractZip extracts the archive at src into dest. Every entry name is
// resolved against dest with the same containment rule as client paths;
// the first entry that fails it aborts the extraction. Entries written
// before the failure are left in place.
func ExtractZip(ctx context.Context, src, dest sandbox.Path, opts ExtractOptions) (*ExtractStats, error) {
	stats := &ExtractStats{}
	err := extract(ctx, src, dest, opts, stats)
	metrics.RecordExtraction(stats.Files+stats.Dirs, err == nil)
	if err != nil {
		logging.Warn("extraction aborted",
			zap.String("archive", src.Rel()),
			zap.Int("files", stats.Files),
			zap.Error(err))
		return nil, err
	}
	return stats, nil
}

func extract(ctx context.Context, src, dest sandbox.Path, opts ExtractOptions, stats *ExtractStats) error {
	r, err := zip.OpenReader(src.Abs())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fserr.NotFound("archive %q", src.Rel())
		}
		return fserr.Extraction("open %q: %v", src.Base(), err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := entryPath(dest, f.Name)
		if err != nil {
			return err
		}
		mode := f.Mode()

		switch {
		case mode&fs.ModeSymlink != 0:
			return fserr.Extraction("entry %q is a symlink", f.Name)
		case mode.IsDir() || strings.HasSuffix(f.Name, "/"):
			if err := mkdirEntry(f.Name, target.Abs()); err != nil {
				return err
			}
			stats.Dirs++
			continue
		case !mode.IsRegular():
			return fserr.Extraction("entry %q is not a regular file", f.Name)
		}

		if target.IsRoot() {
			return fserr.Extraction("entry %q names the destination itself", f.Name)
		}
		if opts.MaxFiles > 0 && stats.Files+1 > opts.MaxFiles {
			return fserr.Extraction("archive has more than %d files", opts.MaxFiles)
		}
		size := int64(f.UncompressedSize64)
		if size < 0 || (opts.MaxBytes > 0 && stats.Bytes+size > opts.MaxBytes) {
			return fserr.Extraction("archive expands to more than %d bytes", opts.MaxBytes)
		}

		if err := mkdirEntry(f.Name, filepath.Dir(target.Abs())); err != nil {
			return err
		}
		if info, err := os.Lstat(target.Abs()); err == nil && info.IsDir() {
			return fserr.Extraction("entry %q is a file but a folder with that name exists", f.Name)
		}
		n, err := writeEntry(ctx, f, target.Abs(), size)
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += n
	}
	return nil
}

// entryPath resolves an entry name inside dest. Any failure, including a
// path that runs through an existing file, is reported as an extraction
// failure naming the entry.
func entryPath(dest sandbox.Path, name string) (sandbox.Path, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return sandbox.Path{}, fserr.Extraction("entry has an invalid name")
	}
	if sandbox.IsStaging(path.Base(strings.TrimSuffix(name, "/"))) {
		return sandbox.Path{}, fserr.Extraction("entry %q uses a reserved name", name)
	}
	p, err := sandbox.Resolve(dest.Abs(), filepath.FromSlash(name))
	if err == nil {
		return p, nil
	}
	if errors.Is(err, fserr.ErrInvalidPath) || errors.Is(err, fserr.ErrNotFound) {
		return sandbox.Path{}, fserr.Extraction("entry %q escapes the destination", name)
	}
	return sandbox.Path{}, err
}

// mkdirEntry creates dir and its parents. A file already sitting where the
// archive expects a folder is the archive's fault, not an IO failure.
func mkdirEntry(name, dir string) error {
	err := os.MkdirAll(dir, 0o755)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.ENOTDIR) {
		return fserr.Extraction("entry %q needs a folder where a file exists", name)
	}
	return fserr.FromOS("mkdir", name, err)
}

// writeEntry streams one entry into a staging file beside dst and renames
// it over dst once the entry has been read in full. A failed entry leaves
// whatever was at dst untouched.
func writeEntry(ctx context.Context, f *zip.File, dst string, size int64) (n int64, err error) {
	rc, err := f.Open()
	if err != nil {
		return 0, fserr.Extraction("open entry %q: %v", f.Name, err)
	}
	defer rc.Close()

	tmp, err := sandbox.CreateStaging(filepath.Dir(dst))
	if err != nil {
		return 0, fserr.FromOS("create", f.Name, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	// Read one byte past the declared size to catch entries that lie about it.
	n, err = ctxio.Copy(ctx, tmp, io.LimitReader(rc, size+1))
	switch {
	case ctx.Err() != nil:
		return n, ctx.Err()
	case errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, io.ErrUnexpectedEOF):
		return n, fserr.Extraction("entry %q is corrupt: %v", f.Name, err)
	case err != nil:
		return n, fmt.Errorf("%w: write %s: %w", fserr.ErrIO, f.Name, err)
	case n != size:
		return n, fserr.Extraction("entry %q is %d bytes, header says %d", f.Name, n, size)
	}

	if err = tmp.Chmod(0o644); err != nil {
		return n, fserr.FromOS("chmod", f.Name, err)
	}
	if err = tmp.Close(); err != nil {
		return n, fserr.FromOS("close", f.Name, err)
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return n, fserr.FromOS("rename", f.Name, err)
	}
	return n, nil
}
