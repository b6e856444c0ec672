// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/auth"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/events"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/gateway"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metrics"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/ratelimit"
)

// Version is reported by /health.
var Version = "dev"

const defaultMaxUploadSize = 1 << 30

// Kinds for errors raised by the transport itself.
const (
	kindBadRequest = "bad_request"
	kindTooLarge   = "too_large"
)

// Server is the HTTP server.
type Server struct {
	gateway       *gateway.Service
	auth          *auth.Auth
	broadcaster   *events.Broadcaster
	limiter       *ratelimit.Limiter
	maxUploadSize int64
}

// NewServer creates a new server. broadcaster and limiter may be nil.
func NewServer(
	gw *gateway.Service,
	authHandler *auth.Auth,
	broadcaster *events.Broadcaster,
	limiter *ratelimit.Limiter,
	maxUploadSize int64,
) *Server {
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadSize
	}
	return &Server{
		gateway:       gw,
		auth:          authHandler,
		broadcaster:   broadcaster,
		limiter:       limiter,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /api/v1/auth/token", s.limiter.Middleware(nil)(http.HandlerFunc(s.auth.HandleLogin)))

	// Workspaces
	mux.Handle("GET /api/v1/servers", s.protect(s.handleListServers))
	mux.Handle("POST /api/v1/servers", s.protect(s.handleCreateServer))
	mux.Handle("DELETE /api/v1/servers/{id}", s.protect(s.handleDeleteServer))

	// Files
	mux.Handle("GET /api/v1/servers/{id}/files", s.protect(s.handleListFiles))
	mux.Handle("DELETE /api/v1/servers/{id}/files", s.protect(s.handleDeleteFile))
	mux.Handle("GET /api/v1/servers/{id}/search", s.protect(s.handleSearch))
	mux.Handle("POST /api/v1/servers/{id}/folders", s.protect(s.handleCreateFolder))
	mux.Handle("POST /api/v1/servers/{id}/upload", s.protect(s.handleUpload))
	mux.Handle("GET /api/v1/servers/{id}/download", s.protect(s.handleDownload))
	mux.Handle("POST /api/v1/servers/{id}/unarchive", s.protect(s.handleUnarchive))
	mux.Handle("GET /api/v1/servers/{id}/unarchive", s.protect(s.handleUnarchive))

	// Snapshots
	mux.Handle("GET /api/v1/servers/{id}/snapshots", s.protect(s.handleListSnapshots))
	mux.Handle("POST /api/v1/servers/{id}/snapshots", s.protect(s.handleCreateSnapshot))
	mux.Handle("GET /api/v1/servers/{id}/snapshots/{name}", s.protect(s.handleGetSnapshot))
	mux.Handle("DELETE /api/v1/servers/{id}/snapshots/{name}", s.protect(s.handleDeleteSnapshot))

	// SSE endpoint
	if s.broadcaster != nil {
		mux.Handle("GET /api/v1/events", s.protect(s.handleEvents))
	}

	// Metrics sees the request the mux matched so it can label by pattern.
	return logging.Middleware(metrics.Middleware(mux))
}

// protect wraps a handler with auth then the per-operator rate limiter.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	annotated := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields := []zap.Field{zap.String("operator", auth.FromContext(r.Context()).Username())}
		if id := r.PathValue("id"); id != "" {
			fields = append(fields, zap.String("server_id", id))
		}
		logging.Annotate(r.Context(), fields...)
		h(w, r)
	})
	limited := s.limiter.Middleware(func(r *http.Request) string {
		if p := auth.FromContext(r.Context()); p.Valid() {
			return "operator:" + p.Username()
		}
		return ""
	})(annotated)
	return s.auth.Middleware(limited)
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, fserr.KindIOFailure, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	metrics.SetSSEConnectionsActive(int64(s.broadcaster.Count()))
	defer func() {
		s.broadcaster.Unsubscribe(ch)
		metrics.SetSSEConnectionsActive(int64(s.broadcaster.Count()))
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, map[string]string{
		"error": message,
		"kind":  kind,
	})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case fserr.KindInvalidPath:
		return http.StatusBadRequest
	case fserr.KindNotFound:
		return http.StatusNotFound
	case fserr.KindConflict:
		return http.StatusConflict
	case fserr.KindExtractionFailed:
		return http.StatusUnprocessableEntity
	case fserr.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports a gateway error. Internal failures are logged and
// their detail is kept out of the response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		sendError(w, http.StatusRequestEntityTooLarge, kindTooLarge,
			fmt.Sprintf("request body too large: max %d bytes", maxErr.Limit))
		return
	}
	if r.Context().Err() != nil {
		// Client went away; nobody is reading the response.
		logging.WithContext(r.Context()).Debug("request cancelled", zap.Error(err))
		return
	}

	kind := fserr.KindOf(err)
	code := statusFor(kind)
	if code == http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		sendError(w, code, kind, "internal error")
		return
	}
	sendError(w, code, kind, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		sendError(w, http.StatusBadRequest, kindBadRequest, "invalid request body")
		return false
	}
	return true
}

func message(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"message": msg})
}
