// Package run records job execution history: one ledger row per spawned
// process, created when the process starts and updated exactly once with a
// terminal status.
package run

import (
	"time"

	"github.com/google/uuid"
)

// Status values for a run. Running is the only non-terminal state; once a
// run reaches success or failed it never reverts.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Run is one execution instance of a job.
type Run struct {
	ID              string     `json:"id"`
	JobID           int64      `json:"job_id"`
	Status          string     `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	Output          string     `json:"output,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// NewRun creates a run row in the running state, stamped with the given
// start time.
func NewRun(jobID int64, startedAt time.Time) *Run {
	return &Run{
		ID:        "run_" + uuid.NewString(),
		JobID:     jobID,
		Status:    StatusRunning,
		StartedAt: startedAt.UTC(),
	}
}

// IsTerminal reports whether the run has reached a final status.
func (r *Run) IsTerminal() bool {
	return r.Status == StatusSuccess || r.Status == StatusFailed
}

// Complete moves the run to a terminal status and fills in completion time
// and duration.
func (r *Run) Complete(status string, completedAt time.Time) {
	completedAt = completedAt.UTC()
	duration := int(completedAt.Sub(r.StartedAt).Seconds())
	r.Status = status
	r.CompletedAt = &completedAt
	r.DurationSeconds = &duration
}
