package fileops

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/archive"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
)

const zipContentType = "application/zip"

// Download is an open download stream. The caller must Close Body.
//
// For a regular file Body is the *os.File itself, so it also implements
// io.Seeker. For a directory Body is the read side of a pipe fed by a zip
// export running in the background; a read error from it means the archive
// is incomplete and must not be presented as a success.
type Download struct {
	Name        string
	ContentType string
	Size        int64 // -1 when unknown
	ModTime     time.Time
	Archive     bool
	Body        io.ReadCloser
}

// Open prepares a download of the file or directory at rel.
func Open(ctx context.Context, root Root, rel string) (*Download, error) {
	target, err := root.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target.Abs())
	if err != nil {
		return nil, fserr.FromOS("stat", target.Rel(), err)
	}

	if info.IsDir() {
		pr, pw := io.Pipe()
		go func() {
			cw := &countingWriter{w: pw}
			_, err := archive.ExportZip(ctx, target, cw)
			metrics.RecordDownload("zip", cw.n, err == nil)
			if err != nil {
				logging.Warn("directory download failed",
					zap.String("path", target.Rel()), zap.Error(err))
			}
			pw.CloseWithError(err)
		}()
		return &Download{
			Name:        target.Base() + ".zip",
			ContentType: zipContentType,
			Size:        -1,
			ModTime:     info.ModTime(),
			Archive:     true,
			Body:        pr,
		}, nil
	}

	if !info.Mode().IsRegular() {
		return nil, fserr.InvalidPath("%q is not a regular file", target.Rel())
	}
	f, err := os.Open(target.Abs())
	if err != nil {
		return nil, fserr.FromOS("open", target.Rel(), err)
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, fserr.FromOS("read", target.Rel(), err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fserr.FromOS("seek", target.Rel(), err)
	}

	metrics.RecordDownload("file", info.Size(), true)
	return &Download{
		Name:        target.Base(),
		ContentType: mt.String(),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		Body:        f,
	}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
