package server

import (
	"net/http"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStatus is the health snapshot served by /api/system/status.
type SystemStatus struct {
	SchedulerRunning  bool    `json:"scheduler_running"`
	Jobs              int     `json:"jobs"`
	EnabledJobs       int     `json:"enabled_jobs"`
	RunningExecutions int     `json:"running_executions"`
	Entries           int     `json:"entries"`
	TrackedProcesses  int     `json:"tracked_processes"`
	Goroutines        int     `json:"goroutines"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
}

// handleSystemStatus reports scheduler liveness and load.
// GET /api/system/status
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	status := SystemStatus{
		SchedulerRunning: s.scheduler.IsRunning(),
		Entries:          len(s.scheduler.ListEntries()),
		TrackedProcesses: s.engine.Registry().Len(),
		Goroutines:       runtime.NumGoroutine(),
	}

	jobs, err := s.jobs.List()
	if err != nil {
		s.logger.Errorw("Failed to count jobs for status", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read job counts")
		return
	}
	status.Jobs = len(jobs)
	for _, j := range jobs {
		if j.Enabled {
			status.EnabledJobs++
		}
	}

	running, err := s.runs.CountRunning()
	if err != nil {
		s.logger.Errorw("Failed to count running executions", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read run counts")
		return
	}
	status.RunningExecutions = running

	// Memory read is best effort; the rest of the status is still useful
	// without it.
	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemoryUsedPercent = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, status)
}

// handleSystemTerminate sweeps all job activity system-wide.
// POST /api/system/terminate
func (s *Server) handleSystemTerminate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	res := s.coordinator.TerminateAll()
	writeJSON(w, http.StatusOK, res)
}

// handleDebugEntries exposes live scheduler entries for reconciling
// in-memory state against the jobs table.
// GET /api/debug/entries
func (s *Server) handleDebugEntries(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	entries := s.scheduler.ListEntries()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleDebugRefresh re-runs the startup load: every enabled job is
// rescheduled from its persisted definition.
// POST /api/debug/refresh
func (s *Server) handleDebugRefresh(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.scheduler.LoadAll(); err != nil {
		s.logger.Errorw("Refresh failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Refresh failed: "+err.Error())
		return
	}
	entries := s.scheduler.ListEntries()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed": true,
		"entries":   len(entries),
	})
}
