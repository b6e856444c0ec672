package api

import (
	"net/http"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/auth"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/workspace"
)

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	p := auth.FromContext(r.Context())
	list, err := s.gateway.ListWorkspaces(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*workspace.Workspace{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": p.Username(),
		"servers":  list,
	})
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ws, err := s.gateway.CreateWorkspace(r.Context(), auth.FromContext(r.Context()), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.DeleteWorkspace(r.Context(), auth.FromContext(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	message(w, http.StatusOK, "server deleted")
}
