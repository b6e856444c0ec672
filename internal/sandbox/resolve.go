// Package sandbox confines client-supplied paths to a workspace root.
//
// Every file operation goes through Resolve (or ResolveNoFollow) right
// before it touches the filesystem. A Path is only ever produced by this
// package, so holding one means the containment check passed. Paths are
// not meant to be cached across requests: the target may not exist yet
// and symlinks can change between calls.
package sandbox

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
)

// maxNameLen matches NAME_MAX on common filesystems.
const maxNameLen = 255

// Path is an absolute, canonical location inside a workspace root.
type Path struct {
	root string
	abs  string
}

// Abs returns the absolute filesystem path.
func (p Path) Abs() string { return p.abs }

// Root returns the canonical root the path was checked against.
func (p Path) Root() string { return p.root }

// IsRoot reports whether the path is the root itself.
func (p Path) IsRoot() bool { return p.abs == p.root }

// Rel returns the slash-separated path relative to the root, or "" for
// the root itself.
func (p Path) Rel() string {
	rel, err := filepath.Rel(p.root, p.abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// Base returns the last element of the path.
func (p Path) Base() string { return filepath.Base(p.abs) }

// Child resolves name directly under p. Name must be a single path
// element (see ValidateName).
func (p Path) Child(name string) (Path, error) {
	if err := ValidateName(name); err != nil {
		return Path{}, err
	}
	return Resolve(p.root, filepath.Join(p.abs, name))
}

// Resolve joins rel onto root, normalizes it, follows symlinks on the part
// that exists and verifies the result is root or a descendant of it.
//
// rel is treated as opaque text: an absolute input is checked by the same
// containment rule rather than re-rooted, so "/etc/passwd" is rejected
// while root's own absolute form is accepted. "" and "." denote root.
func Resolve(root, rel string) (Path, error) {
	canonRoot, cand, err := candidate(root, rel)
	if err != nil {
		return Path{}, err
	}

	real, err := evalExisting(cand)
	if err != nil {
		return Path{}, err
	}
	if !Within(canonRoot, real) {
		metrics.RecordPathRejected("symlink")
		return Path{}, fserr.InvalidPath("%q resolves outside the workspace", rel)
	}
	return Path{root: canonRoot, abs: real}, nil
}

// ResolveNoFollow is Resolve without following a symlink in the final
// element. Use it when acting on a directory entry itself, e.g. removing
// a symlink rather than its target.
func ResolveNoFollow(root, rel string) (Path, error) {
	canonRoot, cand, err := candidate(root, rel)
	if err != nil {
		return Path{}, err
	}
	if cand == canonRoot {
		return Path{root: canonRoot, abs: canonRoot}, nil
	}

	parent, err := evalExisting(filepath.Dir(cand))
	if err != nil {
		return Path{}, err
	}
	abs := filepath.Join(parent, filepath.Base(cand))
	if !Within(canonRoot, abs) {
		metrics.RecordPathRejected("symlink")
		return Path{}, fserr.InvalidPath("%q resolves outside the workspace", rel)
	}
	return Path{root: canonRoot, abs: abs}, nil
}

// Within reports whether p is root or lies under it. The comparison is
// made on path elements, so root /a/b does not contain /a/bc.
func Within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

// ValidateName checks a single file or folder name supplied by a client.
// Separators, NUL bytes, "." and ".." are rejected, as are staging names.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fserr.InvalidPath("name is empty")
	case name == "." || name == "..":
		return fserr.InvalidPath("name %q is reserved", name)
	case strings.ContainsAny(name, `/\`):
		metrics.RecordPathRejected("separator")
		return fserr.InvalidPath("name %q contains a path separator", name)
	case strings.ContainsRune(name, 0):
		metrics.RecordPathRejected("nul")
		return fserr.InvalidPath("name contains a NUL byte")
	case len(name) > maxNameLen:
		return fserr.InvalidPath("name longer than %d bytes", maxNameLen)
	case IsStaging(name):
		return fserr.InvalidPath("name %q is reserved", name)
	}
	return nil
}

// candidate canonicalizes root and builds the lexical candidate for rel.
func candidate(root, rel string) (string, string, error) {
	if !filepath.IsAbs(root) {
		return "", "", fserr.InvalidPath("root %q is not absolute", root)
	}
	if strings.ContainsRune(rel, 0) {
		metrics.RecordPathRejected("nul")
		return "", "", fserr.InvalidPath("path contains a NUL byte")
	}

	canonRoot, err := filepath.EvalSymlinks(filepath.Clean(root))
	if err != nil {
		return "", "", fserr.FromOS("resolve root", root, err)
	}

	var cand string
	if filepath.IsAbs(rel) {
		cand = filepath.Clean(rel)
	} else {
		cand = filepath.Join(canonRoot, rel)
	}
	if !Within(canonRoot, cand) {
		metrics.RecordPathRejected("traversal")
		return "", "", fserr.InvalidPath("%q escapes the workspace", rel)
	}
	return canonRoot, cand, nil
}

// evalExisting resolves symlinks on the longest existing prefix of p and
// appends the missing tail unchanged. A dangling symlink anywhere on the
// way is rejected since writing through it would land at its target.
func evalExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				real = filepath.Join(real, tail[i])
			}
			return real, nil
		}
		if errors.Is(err, syscall.ENOTDIR) {
			return "", fserr.NotFound("%q is not a directory", filepath.Base(filepath.Dir(cur)))
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fserr.FromOS("resolve", cur, err)
		}
		if _, lerr := os.Lstat(cur); lerr == nil {
			metrics.RecordPathRejected("dangling_symlink")
			return "", fserr.InvalidPath("%q is a dangling symlink", filepath.Base(cur))
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}
