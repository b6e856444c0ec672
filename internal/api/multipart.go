package api

import (
	"mime"
	"mime/multipart"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fileops"
)

// uploadField is the form field carrying files.
const uploadField = "files"

// partSource feeds multipart file parts to fileops.Ingest one at a time,
// so no part is buffered in memory or spilled to disk by net/http.
type partSource struct {
	mr  *multipart.Reader
	cur *multipart.Part
}

func (p *partSource) Next() (*fileops.UploadItem, error) {
	p.close()
	for {
		part, err := p.mr.NextPart()
		if err != nil {
			return nil, err
		}
		name, ok := rawFileName(part)
		if part.FormName() != uploadField || !ok {
			part.Close()
			continue
		}
		p.cur = part
		return &fileops.UploadItem{Name: name, Body: part}, nil
	}
}

func (p *partSource) close() {
	if p.cur != nil {
		p.cur.Close()
		p.cur = nil
	}
}

// rawFileName returns the filename exactly as the client sent it.
// Part.FileName strips directories, which would let "../x" through as "x"
// instead of rejecting it.
func rawFileName(part *multipart.Part) (string, bool) {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return "", false
	}
	name, ok := params["filename"]
	return name, ok
}
