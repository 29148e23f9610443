package run

import (
	"database/sql"
	"time"

	"github.com/openetl/jobd/errors"
)

const selectColumns = `id, job_id, status, started_at, completed_at,
	       duration_seconds, output, error_message`

// Store handles persistence of the run ledger.
type Store struct {
	db *sql.DB
}

// NewStore creates a new run store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new run row. The row must be visible to concurrent
// termination requests before the process exits, so callers create it
// before spawning.
func (s *Store) Create(r *Run) error {
	_, err := s.db.Exec(`
		INSERT INTO job_runs (id, job_id, status, started_at, completed_at,
		                      duration_seconds, output, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		r.JobID,
		r.Status,
		r.StartedAt.UTC().Format(time.RFC3339),
		formatTimePtr(r.CompletedAt),
		intPtrValue(r.DurationSeconds),
		nullIfEmpty(r.Output),
		nullIfEmpty(r.ErrorMessage),
	)
	if err != nil {
		return errors.Wrapf(err, "create run %s", r.ID)
	}
	return nil
}

// Update rewrites a run's status, completion fields and captured output.
func (s *Store) Update(r *Run) error {
	result, err := s.db.Exec(`
		UPDATE job_runs
		SET status = ?, completed_at = ?, duration_seconds = ?,
		    output = ?, error_message = ?
		WHERE id = ?`,
		r.Status,
		formatTimePtr(r.CompletedAt),
		intPtrValue(r.DurationSeconds),
		nullIfEmpty(r.Output),
		nullIfEmpty(r.ErrorMessage),
		r.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update run %s", r.ID)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Newf("run not found: %s", r.ID)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *Store) Get(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM job_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf("run not found: %s", id)
		}
		return nil, errors.Wrapf(err, "get run %s", id)
	}
	return r, nil
}

// ListForJob returns up to limit runs for a job, most recently started
// first. Returns ErrJobNotFound for an unknown job id, distinguishing
// "never run" (empty slice) from "no such job".
func (s *Store) ListForJob(jobID int64, limit int) ([]*Run, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM jobs WHERE id = ?)", jobID).Scan(&exists)
	if err != nil {
		return nil, errors.Wrapf(err, "check job %d", jobID)
	}
	if !exists {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "job %d", jobID)
	}

	return s.query(`
		SELECT `+selectColumns+`
		FROM job_runs
		WHERE job_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, jobID, limit)
}

// ListRunning returns every run still in the running state.
func (s *Store) ListRunning() ([]*Run, error) {
	return s.query(`
		SELECT `+selectColumns+`
		FROM job_runs
		WHERE status = ?
		ORDER BY started_at ASC`, StatusRunning)
}

// ListRunningForJob returns runs in the running state for one job.
func (s *Store) ListRunningForJob(jobID int64) ([]*Run, error) {
	return s.query(`
		SELECT `+selectColumns+`
		FROM job_runs
		WHERE status = ? AND job_id = ?
		ORDER BY started_at ASC`, StatusRunning, jobID)
}

// CountRunning returns the number of runs currently in the running state.
func (s *Store) CountRunning() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM job_runs WHERE status = ?", StatusRunning).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "count running runs")
	}
	return count, nil
}

func (s *Store) query(query string, args ...interface{}) ([]*Run, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var startedAt string
	var completedAt, output, errorMessage sql.NullString
	var duration sql.NullInt64

	err := row.Scan(
		&r.ID,
		&r.JobID,
		&r.Status,
		&startedAt,
		&completedAt,
		&duration,
		&output,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}

	r.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse started_at for run %s", r.ID)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "parse completed_at for run %s", r.ID)
		}
		r.CompletedAt = &t
	}
	if duration.Valid {
		d := int(duration.Int64)
		r.DurationSeconds = &d
	}
	if output.Valid {
		r.Output = output.String
	}
	if errorMessage.Valid {
		r.ErrorMessage = errorMessage.String
	}

	return &r, nil
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func intPtrValue(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
