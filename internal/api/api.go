// Package api serves the debugger's read-only control surface: querying the
// registry's report and the in-memory log ring, and requesting termination.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nishisan-dev/tzdebug/internal/logging"
	"github.com/nishisan-dev/tzdebug/internal/registry"
)

// Server wires the registry and log ring to an HTTP router.
type Server struct {
	reg    *registry.Registry
	ring   *logging.RingSink
	logger *slog.Logger
}

// NewServer builds the control-surface HTTP handler. ring may be nil if log
// querying was not configured.
func NewServer(reg *registry.Registry, ring *logging.RingSink, logger *slog.Logger) *Server {
	return &Server{reg: reg, ring: ring, logger: logger}
}

// Router builds the gorilla/mux router exposing the control surface.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/v1/terminate", s.handleTerminate).Methods(http.MethodPost)
	r.HandleFunc("/v1/log", s.handleLog).Methods(http.MethodGet)
	return r
}

func (s *Server) handleReport(w http.ResponseWriter, req *http.Request) {
	rep := s.reg.GetReport(req.Context())
	writeJSON(w, rep)
}

func (s *Server) handleTerminate(w http.ResponseWriter, req *http.Request) {
	rep := s.reg.Terminate(req.Context())
	writeJSON(w, rep)
}

func (s *Server) handleLog(w http.ResponseWriter, req *http.Request) {
	if s.ring == nil {
		http.Error(w, "log querying not enabled", http.StatusNotImplemented)
		return
	}

	q := req.URL.Query()
	cursor, _ := strconv.ParseUint(q.Get("cursor_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	level := parseLevel(q.Get("level"))

	entries := s.ring.Query(cursor, level, limit)
	writeJSON(w, entries)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
