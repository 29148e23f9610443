// Package job defines scheduled job definitions and their persistence.
package job

import (
	"encoding/json"
	"time"
)

// Job is a recurring task definition: a script on disk, a 5-field cron
// expression saying when to run it, and a free-form configuration blob that
// is handed to the script through its environment.
//
// NextRunAt is non-nil only while the job is enabled and holds a live
// scheduler entry; it is cleared whenever the job is disabled or
// unscheduled.
type Job struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	ScriptPath     string          `json:"script_path"`
	CronExpression string          `json:"cron_expression"`
	Enabled        bool            `json:"enabled"`
	Config         json.RawMessage `json:"config"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
}
