package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/auth"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fileops"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
)

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := s.gateway.ListFiles(r.Context(), auth.FromContext(r.Context()),
		r.PathValue("id"), r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []fileops.DirectoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendError(w, http.StatusBadRequest, kindBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, fileops.DefaultSearchLimit)
	}
	res, err := s.gateway.SearchFiles(r.Context(), auth.FromContext(r.Context()),
		r.PathValue("id"), q.Get("path"), q.Get("pattern"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	rel, err := s.gateway.CreateFolder(r.Context(), auth.FromContext(r.Context()),
		r.PathValue("id"), r.URL.Query().Get("path"), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": rel})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	err := s.gateway.DeleteFile(r.Context(), auth.FromContext(r.Context()),
		r.PathValue("id"), r.URL.Query().Get("filePath"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	message(w, http.StatusOK, "file deleted")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUploadSize {
		sendError(w, http.StatusRequestEntityTooLarge, kindTooLarge,
			fmt.Sprintf("request body too large: max %d bytes", s.maxUploadSize))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)

	mr, err := r.MultipartReader()
	if err != nil {
		sendError(w, http.StatusBadRequest, kindBadRequest, "expected multipart/form-data")
		return
	}

	src := &partSource{mr: mr}
	defer src.close()

	results, err := s.gateway.UploadFiles(r.Context(), auth.FromContext(r.Context()),
		r.PathValue("id"), r.URL.Query().Get("path"), src)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) && len(results) > 0 {
		// Earlier files are already on disk; report them with the cut-off one.
		for i := range results {
			if errors.As(results[i].Err, &maxErr) {
				results[i].Kind = kindTooLarge
				results[i].Error = "upload limit reached"
			}
		}
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"error": fmt.Sprintf("request body too large: max %d bytes", maxErr.Limit),
			"kind":  kindTooLarge,
			"files": results,
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []fileops.ItemResult{}
	}

	code := http.StatusOK
	if fileops.Failed(results) {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, map[string]any{"files": results})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	dl, err := s.gateway.DownloadFile(r.Context(), auth.FromContext(r.Context()),
		r.PathValue("id"), r.URL.Query().Get("filePath"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Name}))

	if rs, ok := dl.Body.(io.ReadSeeker); ok && !dl.Archive {
		http.ServeContent(w, r, dl.Name, dl.ModTime, rs)
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl.Body); err != nil {
		// The status line is gone; abort so the client sees a broken
		// transfer instead of a short archive.
		logging.WithContext(r.Context()).Warn("download aborted",
			zap.String("name", dl.Name),
			zap.Error(err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleUnarchive(w http.ResponseWriter, r *http.Request) {
	res, err := s.gateway.Unarchive(r.Context(), auth.FromContext(r.Context()),
		r.PathValue("id"), r.URL.Query().Get("filePath"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
