// Package archive streams zip archives out of and into workspace trees.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/ctxio"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/sandbox"
)

// ExportStats describes a finished export.
type ExportStats struct {
	Files int
	Dirs  int
	Bytes int64 // uncompressed
}

// ExportZip writes src as a zip archive to w. A directory is walked in
// lexical order with entry names relative to src; a regular file becomes a
// single entry named after itself. Symlinks, special files and staging
// files are skipped.
//
// On error the bytes already written to w are not a valid archive.
func ExportZip(ctx context.Context, src sandbox.Path, w io.Writer) (*ExportStats, error) {
	info, err := os.Stat(src.Abs())
	if err != nil {
		return nil, fserr.FromOS("stat", src.Rel(), err)
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	stats := &ExportStats{}
	if info.Mode().IsRegular() {
		err = addFile(ctx, zw, src.Abs(), info.Name(), info, stats)
	} else if info.IsDir() {
		err = addTree(ctx, zw, src.Abs(), stats)
	} else {
		err = fserr.InvalidPath("%q is not a file or directory", src.Rel())
	}
	if err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: finish archive: %w", fserr.ErrIO, err)
	}
	return stats, nil
}

func addTree(ctx context.Context, zw *zip.Writer, dir string, stats *ExportStats) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return fserr.FromOS("walk", path, walkErr)
		}
		if path == dir || sandbox.IsStaging(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("%w: %w", fserr.ErrIO, err)
		}
		name := filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return fserr.FromOS("stat", path, err)
			}
			hdr, err := zip.FileInfoHeader(info)
			if err != nil {
				return fmt.Errorf("%w: header for %s: %w", fserr.ErrIO, name, err)
			}
			hdr.Name = name + "/"
			hdr.Method = zip.Store
			if _, err := zw.CreateHeader(hdr); err != nil {
				return fmt.Errorf("%w: write %s: %w", fserr.ErrIO, hdr.Name, err)
			}
			stats.Dirs++
			return nil
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return fserr.FromOS("stat", path, err)
			}
			return addFile(ctx, zw, path, name, info, stats)
		default:
			return nil
		}
	})
}

func addFile(ctx context.Context, zw *zip.Writer, path, name string, info fs.FileInfo, stats *ExportStats) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("%w: header for %s: %w", fserr.ErrIO, name, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	f, err := os.Open(path)
	if err != nil {
		return fserr.FromOS("open", name, err)
	}
	defer f.Close()

	entry, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", fserr.ErrIO, name, err)
	}
	n, err := ctxio.Copy(ctx, entry, f)
	stats.Bytes += n
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: copy %s: %w", fserr.ErrIO, name, err)
	}
	stats.Files++
	return nil
}
