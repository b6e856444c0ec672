package api

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/auth"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/snapshot"
)

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.gateway.CreateSnapshot(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := s.gateway.ListSnapshots(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []snapshot.Snapshot{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rc, size, err := s.gateway.OpenSnapshot(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logging.WithContext(r.Context()).Warn("snapshot download aborted",
			zap.String("name", name),
			zap.Error(err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	err := s.gateway.DeleteSnapshot(r.Context(), auth.FromContext(r.Context()), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	message(w, http.StatusOK, "snapshot deleted")
}
