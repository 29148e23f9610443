package job

import (
	"database/sql"
	"time"

	"github.com/openetl/jobd/errors"
)

const selectColumns = `id, name, description, script_path, cron_expression,
	       enabled, config, created_at, updated_at, last_run_at, next_run_at`

// Store handles persistence of job definitions.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new job and fills in its assigned ID and timestamps.
func (s *Store) Create(j *Job) error {
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now

	if len(j.Config) == 0 {
		j.Config = []byte("{}")
	}

	result, err := s.db.Exec(`
		INSERT INTO jobs (name, description, script_path, cron_expression,
		                  enabled, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.Name,
		j.Description,
		j.ScriptPath,
		j.CronExpression,
		j.Enabled,
		string(j.Config),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "create job")
	}

	j.ID, err = result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "get job id")
	}
	return nil
}

// Get retrieves a job by ID. Returns ErrJobNotFound if no such job exists.
func (s *Store) Get(id int64) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM jobs WHERE id = ?`, id)

	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrJobNotFound, "job %d", id)
		}
		return nil, errors.Wrapf(err, "get job %d", id)
	}
	return j, nil
}

// Exists reports whether a job with the given ID exists.
func (s *Store) Exists(id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM jobs WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, "check job %d", id)
	}
	return exists, nil
}

// List returns all jobs ordered by creation time, newest first.
func (s *Store) List() ([]*Job, error) {
	return s.query(`SELECT ` + selectColumns + ` FROM jobs ORDER BY created_at DESC, id DESC`)
}

// ListEnabled returns all enabled jobs.
func (s *Store) ListEnabled() ([]*Job, error) {
	return s.query(`SELECT ` + selectColumns + ` FROM jobs WHERE enabled = 1 ORDER BY id`)
}

// ListDisabled returns all disabled jobs.
func (s *Store) ListDisabled() ([]*Job, error) {
	return s.query(`SELECT ` + selectColumns + ` FROM jobs WHERE enabled = 0 ORDER BY id`)
}

// Update rewrites a job's mutable fields and bumps updated_at.
func (s *Store) Update(j *Job) error {
	j.UpdatedAt = time.Now().UTC()

	if len(j.Config) == 0 {
		j.Config = []byte("{}")
	}

	result, err := s.db.Exec(`
		UPDATE jobs
		SET name = ?, description = ?, script_path = ?, cron_expression = ?,
		    enabled = ?, config = ?, updated_at = ?
		WHERE id = ?`,
		j.Name,
		j.Description,
		j.ScriptPath,
		j.CronExpression,
		j.Enabled,
		string(j.Config),
		j.UpdatedAt.Format(time.RFC3339),
		j.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update job %d", j.ID)
	}
	return requireRow(result, j.ID)
}

// Delete removes a job; runs cascade via the foreign key.
func (s *Store) Delete(id int64) error {
	result, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "delete job %d", id)
	}
	return requireRow(result, id)
}

// SetNextRun persists the job's next scheduled fire time. A nil value
// clears it (disabled or unscheduled jobs must not advertise a next run).
func (s *Store) SetNextRun(id int64, next *time.Time) error {
	var value interface{}
	if next != nil {
		value = next.UTC().Format(time.RFC3339)
	}
	result, err := s.db.Exec("UPDATE jobs SET next_run_at = ? WHERE id = ?", value, id)
	if err != nil {
		return errors.Wrapf(err, "set next_run_at for job %d", id)
	}
	return requireRow(result, id)
}

// SetLastRun persists the start time of the job's most recent execution.
func (s *Store) SetLastRun(id int64, last time.Time) error {
	result, err := s.db.Exec("UPDATE jobs SET last_run_at = ? WHERE id = ?",
		last.UTC().Format(time.RFC3339), id)
	if err != nil {
		return errors.Wrapf(err, "set last_run_at for job %d", id)
	}
	return requireRow(result, id)
}

func (s *Store) query(query string, args ...interface{}) ([]*Job, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func requireRow(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrJobNotFound, "job %d", id)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var enabled int
	var config, createdAt, updatedAt string
	var lastRunAt, nextRunAt sql.NullString

	err := row.Scan(
		&j.ID,
		&j.Name,
		&j.Description,
		&j.ScriptPath,
		&j.CronExpression,
		&enabled,
		&config,
		&createdAt,
		&updatedAt,
		&lastRunAt,
		&nextRunAt,
	)
	if err != nil {
		return nil, err
	}

	j.Enabled = enabled != 0
	j.Config = []byte(config)

	j.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse created_at for job %d", j.ID)
	}
	j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for job %d", j.ID)
	}
	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse last_run_at for job %d", j.ID)
		}
		j.LastRunAt = &t
	}
	if nextRunAt.Valid {
		t, err := time.Parse(time.RFC3339, nextRunAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse next_run_at for job %d", j.ID)
		}
		j.NextRunAt = &t
	}

	return &j, nil
}
