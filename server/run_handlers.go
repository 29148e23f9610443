package server

import (
	"net/http"

	"github.com/openetl/jobd/errors"
	"github.com/openetl/jobd/run"
)

// ListRunsResponse wraps a job's execution history.
type ListRunsResponse struct {
	Runs  []*run.Run `json:"runs"`
	Count int        `json:"count"`
}

// runJobNow hands the job to the scheduler for an immediate one-shot
// execution. 202 because the run happens asynchronously.
func (s *Server) runJobNow(w http.ResponseWriter, id int64) {
	j, err := s.jobs.Get(id)
	if err != nil {
		if errors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	if !s.scheduler.ScheduleOnce(j.ID, j.Name) {
		writeError(w, http.StatusServiceUnavailable, "Scheduler is not running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":    j.ID,
		"triggered": true,
	})
}

// listJobRuns returns the job's runs, most recently started first.
// GET /api/jobs/{id}/runs?limit=50
func (s *Server) listJobRuns(w http.ResponseWriter, r *http.Request, id int64) {
	limit := intQueryParam(r, "limit", 50, 1, 200)

	runs, err := s.runs.ListForJob(id, limit)
	if err != nil {
		if errors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.Errorw("Failed to list runs", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: runs, Count: len(runs)})
}

// terminateJob sweeps one job's pending entries, running rows, and live
// processes. Partial failures come back in the result, not as an HTTP
// error.
func (s *Server) terminateJob(w http.ResponseWriter, id int64) {
	exists, err := s.jobs.Exists(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check job")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	res := s.coordinator.TerminateOne(id)
	writeJSON(w, http.StatusOK, res)
}
