package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/ctxio"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/sandbox"
)

// UploadItem is one incoming file. Body is read at most once.
type UploadItem struct {
	Name string
	Body io.Reader
}

// ItemSource yields upload items in order and returns io.EOF after the
// last one. An item's Body is only valid until the next call to Next.
type ItemSource interface {
	Next() (*UploadItem, error)
}

// ItemResult reports the outcome of one item.
type ItemResult struct {
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	Size  int64  `json:"size"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`

	Err error `json:"-"`
}

// Failed reports whether any result carries an error.
func Failed(results []ItemResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// Ingest writes every item from src into the directory at rel, creating it
// if needed. Items are written independently: a bad name or a failed write
// is recorded in that item's result and the remaining items still run.
// Each file is written to a temporary name and renamed into place, so a
// failed item never leaves a truncated file behind.
//
// The returned error is non-nil only when the destination is unusable, the
// source itself fails or ctx is cancelled; results gathered so far are
// returned with it.
func Ingest(ctx context.Context, root Root, rel string, src ItemSource) ([]ItemResult, error) {
	dest, err := root.Resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := mkdirAll(dest); err != nil {
		return nil, err
	}

	var results []ItemResult
	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		item, err := src.Next()
		if errors.Is(err, io.EOF) {
			return results, nil
		}
		if err != nil {
			return results, fmt.Errorf("read upload: %w", err)
		}

		res := ingestOne(ctx, dest, item)
		metrics.RecordUpload(res.Size, res.Err == nil)
		if res.Err != nil {
			res.Error = res.Err.Error()
			res.Kind = fserr.KindOf(res.Err)
			logging.Warn("upload item failed",
				zap.String("dir", dest.Rel()),
				zap.String("name", item.Name),
				zap.Error(res.Err))
			// Consume what is left so the source can advance to the next item.
			if _, derr := ctxio.Copy(ctx, io.Discard, item.Body); derr != nil && ctx.Err() != nil {
				results = append(results, res)
				return results, ctx.Err()
			}
		}
		results = append(results, res)
	}
}

func ingestOne(ctx context.Context, dest sandbox.Path, item *UploadItem) ItemResult {
	res := ItemResult{Name: item.Name}

	target, err := dest.Child(item.Name)
	if err != nil {
		res.Err = err
		return res
	}
	res.Path = target.Rel()
	if info, err := os.Lstat(target.Abs()); err == nil && info.IsDir() {
		res.Err = fserr.Conflict("%q is a directory", target.Rel())
		return res
	}

	tmp, err := sandbox.CreateStaging(dest.Abs())
	if err != nil {
		res.Err = fserr.FromOS("create", target.Rel(), err)
		return res
	}
	tmpName := tmp.Name()

	n, err := ctxio.Copy(ctx, tmp, item.Body)
	res.Size = n
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		if ctx.Err() != nil {
			res.Err = ctx.Err()
		} else {
			res.Err = fmt.Errorf("%w: write %s: %w", fserr.ErrIO, target.Rel(), err)
		}
		return res
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		res.Err = fserr.FromOS("chmod", target.Rel(), err)
		return res
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		res.Err = fserr.FromOS("close", target.Rel(), err)
		return res
	}
	if err := os.Rename(tmpName, target.Abs()); err != nil {
		os.Remove(tmpName)
		res.Err = fserr.FromOS("rename", target.Rel(), err)
		return res
	}
	return res
}
