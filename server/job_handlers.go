package server

import (
	"encoding/json"
	"net/http"

	"github.com/robfig/cron/v3"

	"github.com/openetl/jobd/errors"
	"github.com/openetl/jobd/job"
)

// JobRequest is the create/update payload. On update, absent fields keep
// their current values.
type JobRequest struct {
	Name           *string         `json:"name"`
	Description    *string         `json:"description"`
	ScriptPath     *string         `json:"script_path"`
	CronExpression *string         `json:"cron_expression"`
	Enabled        *bool           `json:"enabled"`
	Config         json.RawMessage `json:"config"`
}

// ListJobsResponse wraps the job collection.
type ListJobsResponse struct {
	Jobs  []*job.Job `json:"jobs"`
	Count int        `json:"count"`
}

// handleJobs routes the collection endpoints.
// GET  /api/jobs — list all jobs
// POST /api/jobs — create a job and schedule it
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodGet {
		s.listJobs(w)
		return
	}
	s.createJob(w, r)
}

// handleJobSubtree routes the per-job endpoints.
// GET/PUT/DELETE /api/jobs/{id}
// POST /api/jobs/{id}/run       — trigger a manual execution
// GET  /api/jobs/{id}/runs      — execution history
// POST /api/jobs/{id}/terminate — terminate this job's activity
func (s *Server) handleJobSubtree(w http.ResponseWriter, r *http.Request) {
	id, action, ok := jobPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid job id")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.getJob(w, id)
		case http.MethodPut:
			s.updateJob(w, r, id)
		case http.MethodDelete:
			s.deleteJob(w, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	case "run":
		if requireMethod(w, r, http.MethodPost) {
			s.runJobNow(w, id)
		}
	case "runs":
		if requireMethod(w, r, http.MethodGet) {
			s.listJobRuns(w, r, id)
		}
	case "terminate":
		if requireMethod(w, r, http.MethodPost) {
			s.terminateJob(w, id)
		}
	default:
		writeError(w, http.StatusNotFound, "Unknown resource: "+action)
	}
}

func (s *Server) listJobs(w http.ResponseWriter) {
	jobs, err := s.jobs.List()
	if err != nil {
		s.logger.Errorw("Failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs, Count: len(jobs)})
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name == nil || *req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ScriptPath == nil || *req.ScriptPath == "" {
		writeError(w, http.StatusBadRequest, "script_path is required")
		return
	}
	if req.CronExpression == nil || *req.CronExpression == "" {
		writeError(w, http.StatusBadRequest, "cron_expression is required")
		return
	}
	if _, err := cron.ParseStandard(*req.CronExpression); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid cron expression: "+err.Error())
		return
	}

	j := &job.Job{
		Name:           *req.Name,
		ScriptPath:     *req.ScriptPath,
		CronExpression: *req.CronExpression,
		Enabled:        true,
		Config:         req.Config,
	}
	if req.Description != nil {
		j.Description = *req.Description
	}
	if req.Enabled != nil {
		j.Enabled = *req.Enabled
	}

	if err := s.jobs.Create(j); err != nil {
		s.logger.Errorw("Failed to create job", "name", j.Name, "error", err)
		writeError(w, http.StatusConflict, "Failed to create job: "+err.Error())
		return
	}
	if err := s.scheduler.Schedule(j); err != nil {
		s.logger.Errorw("Failed to schedule new job", "job_id", j.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Job created but scheduling failed")
		return
	}

	created, err := s.jobs.Get(j.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload job")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getJob(w http.ResponseWriter, id int64) {
	j, err := s.jobs.Get(id)
	if err != nil {
		if errors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.Errorw("Failed to get job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) updateJob(w http.ResponseWriter, r *http.Request, id int64) {
	j, err := s.jobs.Get(id)
	if err != nil {
		if errors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	var req JobRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Name != nil {
		j.Name = *req.Name
	}
	if req.Description != nil {
		j.Description = *req.Description
	}
	if req.ScriptPath != nil {
		j.ScriptPath = *req.ScriptPath
	}
	if req.CronExpression != nil {
		if _, err := cron.ParseStandard(*req.CronExpression); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cron expression: "+err.Error())
			return
		}
		j.CronExpression = *req.CronExpression
	}
	if req.Enabled != nil {
		j.Enabled = *req.Enabled
	}
	if req.Config != nil {
		j.Config = req.Config
	}

	if err := s.jobs.Update(j); err != nil {
		s.logger.Errorw("Failed to update job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update job")
		return
	}
	if err := s.scheduler.Schedule(j); err != nil {
		s.logger.Errorw("Failed to reschedule job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Job updated but rescheduling failed")
		return
	}

	updated, err := s.jobs.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload job")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteJob(w http.ResponseWriter, id int64) {
	if _, err := s.jobs.Get(id); err != nil {
		if errors.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	s.scheduler.Unschedule(id)
	if err := s.jobs.Delete(id); err != nil {
		s.logger.Errorw("Failed to delete job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}
