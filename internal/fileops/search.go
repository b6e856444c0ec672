package fileops

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/sandbox"
)

// DefaultSearchLimit caps the matches a search returns.
const DefaultSearchLimit = 1000

var errLimit = errors.New("search limit reached")

// SearchResult is the outcome of Search. Truncated is set when more entries
// matched than the limit allowed.
type SearchResult struct {
	Matches   []DirectoryEntry `json:"matches"`
	Truncated bool             `json:"truncated"`
}

// Search walks the tree below rel and returns the entries whose path,
// relative to rel and slash separated, matches the doublestar pattern
// (for example "**/*.jar" or "world*/level.dat"). Symlinks are reported
// but never descended into. Unreadable subtrees are skipped and logged.
func Search(ctx context.Context, root Root, rel, pattern string, limit int) (*SearchResult, error) {
	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		return nil, fserr.InvalidPath("invalid search pattern %q", pattern)
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
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

	res := &SearchResult{Matches: []DirectoryEntry{}}
	err = filepath.WalkDir(dir.Abs(), func(p string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if p == dir.Abs() {
				return err
			}
			metrics.RecordListingSkipped()
			logging.Warn("skipping unreadable subtree", zap.String("path", p), zap.Error(err))
			return nil
		}
		if p == dir.Abs() {
			return nil
		}
		if sandbox.IsStaging(d.Name()) {
			return nil
		}
		sub, err := filepath.Rel(dir.Abs(), p)
		if err != nil {
			return nil
		}
		sub = filepath.ToSlash(sub)
		if !doublestar.MatchUnvalidated(pattern, sub) {
			return nil
		}
		if len(res.Matches) == limit {
			res.Truncated = true
			return errLimit
		}
		kind := KindFile
		if d.IsDir() {
			kind = KindDirectory
		} else if d.Type()&os.ModeSymlink != 0 {
			if target, err := os.Stat(p); err == nil && target.IsDir() {
				kind = KindDirectory
			}
		}
		res.Matches = append(res.Matches, DirectoryEntry{
			Name:         d.Name(),
			Kind:         kind,
			RelativePath: path.Join(dir.Rel(), sub),
		})
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fserr.FromOS("search", dir.Rel(), err)
	}
	return res, nil
}
