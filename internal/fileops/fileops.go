// Package fileops implements the file operations clients run inside a
// workspace: listing, folder creation, deletion, downloads and uploads.
//
// Every function resolves its client path through the workspace right
// before touching the filesystem; nothing here keeps a resolved path
// between calls.
package fileops

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/sandbox"
)

// Root resolves client paths inside one workspace.
type Root interface {
	Resolve(rel string) (sandbox.Path, error)
	ResolveNoFollow(rel string) (sandbox.Path, error)
}

// Kind is the type of a directory entry.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// DirectoryEntry is one item in a listing.
type DirectoryEntry struct {
	Name         string `json:"name"`
	Kind         Kind   `json:"type"`
	RelativePath string `json:"path"`
}

// List returns the entries of the directory at rel, sorted by name.
//
// An entry that cannot be classified (a dangling symlink, or one removed
// while listing) is skipped and logged; it never fails the whole listing.
// Symlinks are reported as the kind of their target.
func List(ctx context.Context, root Root, rel string) ([]DirectoryEntry, error) {
	dir, err := root.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir.Abs())
	if err != nil {
		return nil, fserr.FromOS("stat", dir.Rel(), err)
	}
	if !info.IsDir() {
		return nil, fserr.InvalidPath("%q is not a directory", dir.Rel())
	}

	des, err := os.ReadDir(dir.Abs())
	if err != nil && len(des) == 0 {
		return nil, fserr.FromOS("read directory", dir.Rel(), err)
	}
	if err != nil {
		logging.Warn("partial directory read", zap.String("path", dir.Rel()), zap.Error(err))
	}

	out := make([]DirectoryEntry, 0, len(des))
	for _, de := range des {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if sandbox.IsStaging(de.Name()) {
			continue
		}
		isDir := de.IsDir()
		if de.Type()&os.ModeSymlink != 0 {
			target, err := os.Stat(filepath.Join(dir.Abs(), de.Name()))
			if err != nil {
				metrics.RecordListingSkipped()
				logging.Warn("skipping unreadable entry",
					zap.String("dir", dir.Rel()),
					zap.String("name", de.Name()),
					zap.Error(err))
				continue
			}
			isDir = target.IsDir()
		}

		kind := KindFile
		if isDir {
			kind = KindDirectory
		}
		out = append(out, DirectoryEntry{
			Name:         de.Name(),
			Kind:         kind,
			RelativePath: path.Join(dir.Rel(), de.Name()),
		})
	}
	return out, nil
}

// CreateFolder creates name under the directory at rel, creating rel too
// if it is missing. Creating a folder that already exists succeeds.
func CreateFolder(ctx context.Context, root Root, rel, name string) (sandbox.Path, error) {
	if err := sandbox.ValidateName(name); err != nil {
		return sandbox.Path{}, err
	}
	parent, err := root.Resolve(rel)
	if err != nil {
		return sandbox.Path{}, err
	}
	target, err := parent.Child(name)
	if err != nil {
		return sandbox.Path{}, err
	}
	if err := ctx.Err(); err != nil {
		return sandbox.Path{}, err
	}
	if err := mkdirAll(target); err != nil {
		return sandbox.Path{}, err
	}
	return target, nil
}

// Delete removes the file, symlink or directory tree at rel. The workspace
// root itself can not be deleted this way.
func Delete(ctx context.Context, root Root, rel string) (sandbox.Path, error) {
	target, err := root.ResolveNoFollow(rel)
	if err != nil {
		return sandbox.Path{}, err
	}
	if target.IsRoot() {
		return sandbox.Path{}, fserr.Conflict("the workspace root can not be deleted")
	}
	if _, err := os.Lstat(target.Abs()); err != nil {
		return sandbox.Path{}, fserr.FromOS("stat", target.Rel(), err)
	}
	if err := removeTree(ctx, target.Abs()); err != nil {
		return sandbox.Path{}, err
	}
	return target, nil
}

// removeTree is os.RemoveAll that stops between entries once ctx is done.
// Symlinks are removed, never followed.
func removeTree(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fserr.FromOS("stat", p, err)
	}
	if info.IsDir() {
		des, err := os.ReadDir(p)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fserr.FromOS("read directory", p, err)
		}
		for _, de := range des {
			if err := removeTree(ctx, filepath.Join(p, de.Name())); err != nil {
				return err
			}
		}
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fserr.FromOS("remove", p, err)
	}
	return nil
}

// mkdirAll creates p and its parents. A non-directory in the way is a
// conflict rather than an IO failure.
func mkdirAll(p sandbox.Path) error {
	err := os.MkdirAll(p.Abs(), 0o755)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EEXIST) {
		return fserr.Conflict("%q exists and is not a directory", p.Rel())
	}
	return fserr.FromOS("mkdir", p.Rel(), err)
}
