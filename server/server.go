// Package server exposes the HTTP API: job CRUD, manual triggers, run
// history, termination, and scheduler introspection.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openetl/jobd/executor"
	"github.com/openetl/jobd/job"
	"github.com/openetl/jobd/kill"
	"github.com/openetl/jobd/run"
	"github.com/openetl/jobd/sched"
)

// Server wires the HTTP API to the scheduler subsystem.
type Server struct {
	jobs        *job.Store
	runs        *run.Store
	scheduler   *sched.Scheduler
	engine      *executor.Engine
	coordinator *kill.Coordinator
	logger      *zap.SugaredLogger
	httpServer  *http.Server
}

// New creates a server listening on addr once Start is called.
func New(addr string, jobs *job.Store, runs *run.Store, scheduler *sched.Scheduler, engine *executor.Engine, coordinator *kill.Coordinator, logger *zap.SugaredLogger) *Server {
	s := &Server{
		jobs:        jobs,
		runs:        runs,
		scheduler:   scheduler,
		engine:      engine,
		coordinator: coordinator,
		logger:      logger.Named("server"),
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/jobs/", s.handleJobSubtree)
	mux.HandleFunc("/api/system/terminate", s.handleSystemTerminate)
	mux.HandleFunc("/api/system/status", s.handleSystemStatus)
	mux.HandleFunc("/api/debug/entries", s.handleDebugEntries)
	mux.HandleFunc("/api/debug/refresh", s.handleDebugRefresh)
	return mux
}

// Handler returns the route tree, for tests driving the API in-process.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Infow("HTTP server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// =======================
// Response helpers
// =======================

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body, answering 400 itself on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// jobPath splits /api/jobs/{id}[/{action}] into the id and optional action.
func jobPath(urlPath string) (int64, string, bool) {
	rest := strings.TrimPrefix(urlPath, "/api/jobs/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action, true
}

// intQueryParam reads a bounded integer query parameter with a default.
func intQueryParam(r *http.Request, name string, def, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return def
	}
	if v > max {
		return max
	}
	return v
}
