package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/projectqa/sidecard/internal/launch"
	"github.com/projectqa/sidecard/internal/spawn"
	"github.com/projectqa/sidecard/internal/supervisor"
)

// Server serves the sidecard control API, normally over a Unix socket.
type Server struct {
	sup    *supervisor.Supervisor
	server *http.Server
	logger *slog.Logger
}

// NewServer creates an API server backed by the given supervisor.
func NewServer(sup *supervisor.Supervisor) *Server {
	s := &Server{
		sup:    sup,
		logger: slog.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runtime/start", s.startRuntime)
	mux.HandleFunc("POST /v1/runtime/stop", s.stopRuntime)
	mux.HandleFunc("GET /v1/runtime/status", s.status)
	mux.HandleFunc("GET /v1/runtime/diagnostics", s.diagnostics)
	mux.HandleFunc("GET /v1/runtime/logs/{sidecar}", s.sidecarLogs)
	mux.HandleFunc("GET /v1/health", s.health)

	s.server = &http.Server{Handler: mux}
	return s
}

// ListenUnix starts the server on a Unix socket.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) startRuntime(w http.ResponseWriter, r *http.Request) {
	var req launch.Request
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	snap, err := s.sup.Start(req)
	if err != nil {
		writeJSON(w, errorStatus(err), map[string]any{"error": err.Error(), "status": snap})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) stopRuntime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Stop())
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Status())
}

func (s *Server) diagnostics(w http.ResponseWriter, r *http.Request) {
	limit := supervisor.DefaultDiagLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.sup.DiagnosticsReport(limit))
}

func (s *Server) sidecarLogs(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("sidecar")
	lines := 100
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "lines must be a positive integer"})
			return
		}
		lines = n
	}
	out, err := s.sup.SidecarLogs(name, lines)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if out == nil {
		out = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sidecar": name, "lines": out})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorStatus maps lifecycle errors onto HTTP statuses: bad launch input is
// the caller's fault, a spawn failure is an upstream failure, and a readiness
// timeout is a gateway timeout.
func errorStatus(err error) int {
	var cfgErr *launch.ConfigurationError
	var spawnErr *spawn.SpawnError
	var readyErr *supervisor.ReadinessTimeoutError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &spawnErr):
		return http.StatusBadGateway
	case errors.As(err, &readyErr):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
