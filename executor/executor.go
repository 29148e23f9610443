// Package executor spawns and supervises one OS process per job invocation.
//
// Every execution gets its own ledger row, created before the process
// starts so concurrent termination requests can see it, and updated exactly
// once with a terminal status when the process ends, times out, or fails to
// spawn at all.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openetl/jobd/errors"
	"github.com/openetl/jobd/job"
	"github.com/openetl/jobd/run"
)

// Environment variable names handed to every spawned script. These are the
// only channel linking a live OS process back to its logical job, so the
// termination coordinator matches on them when scanning the process table.
const (
	EnvJobConfig = "JOB_CONFIG"
	EnvJobID     = "JOB_ID"
	EnvJobName   = "JOB_NAME"
)

// DefaultTimeout is the hard wall-clock ceiling on a single execution.
const DefaultTimeout = time.Hour

// DefaultKillGrace is how long a process gets between SIGTERM and SIGKILL.
const DefaultKillGrace = 5 * time.Second

// NextRunSource is the scheduler read-through boundary: after an execution
// the engine refreshes the job's next_run from the live entry rather than
// recomputing it from the cron expression.
type NextRunSource interface {
	NextFireTime(jobID int64) (time.Time, bool)
}

// Options configures the engine.
type Options struct {
	// ScriptsDir anchors relative script paths.
	ScriptsDir string
	// Interpreter runs scripts (argv[0]; the script path is argv[1]).
	Interpreter string
	// Timeout is the execution wall-clock ceiling (DefaultTimeout if zero).
	Timeout time.Duration
	// KillGrace is the SIGTERM-to-SIGKILL escalation delay
	// (DefaultKillGrace if zero).
	KillGrace time.Duration
}

// Engine executes jobs as isolated subprocesses.
//
// No per-job mutual exclusion is enforced: a cron fire and a manual trigger
// for the same job may run concurrently, each with its own ledger row.
type Engine struct {
	jobs     *job.Store
	runs     *run.Store
	registry *Registry
	schedule NextRunSource
	opts     Options
	logger   *zap.SugaredLogger
}

// New creates an engine. Bind the scheduler with SetNextRunSource before
// the first execution fires.
func New(jobs *job.Store, runs *run.Store, opts Options, logger *zap.SugaredLogger) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}
	return &Engine{
		jobs:     jobs,
		runs:     runs,
		registry: NewRegistry(),
		opts:     opts,
		logger:   logger.Named("executor"),
	}
}

// SetNextRunSource binds the scheduler read-through. Split from New because
// the scheduler itself needs the engine as its firing target.
func (e *Engine) SetNextRunSource(src NextRunSource) {
	e.schedule = src
}

// Registry exposes the live-process registry to the termination
// coordinator.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Execute runs one invocation of the job to completion. It is the single
// entry point for both trigger firings and manual requests, and never
// panics or returns: every outcome lands in the ledger, except an unknown
// job id which is logged and produces no row.
func (e *Engine) Execute(jobID int64) {
	j, err := e.jobs.Get(jobID)
	if err != nil {
		e.logger.Errorw("Cannot execute, job lookup failed", "job_id", jobID, "error", err)
		return
	}

	start := time.Now().UTC()
	r := run.NewRun(j.ID, start)

	// The row must exist before the process does, so a concurrent
	// terminate sees this run.
	if err := e.runs.Create(r); err != nil {
		e.logger.Errorw("Cannot execute, failed to create run row",
			"job_id", j.ID, "error", err)
		return
	}
	e.logger.Infow("Starting execution", "job_id", j.ID, "name", j.Name, "run_id", r.ID)

	scriptPath := j.ScriptPath
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(e.opts.ScriptsDir, scriptPath)
	}
	if _, err := os.Stat(scriptPath); err != nil {
		msg := errors.Wrapf(errors.ErrScriptNotFound, "%s", scriptPath).Error()
		e.finish(j, r, run.StatusFailed, "", msg, start)
		return
	}

	stdout, stderr, waitErr, timedOut := e.spawn(j, r, scriptPath)

	var status, output, errMsg string
	output = stdout
	switch {
	case timedOut:
		status = run.StatusFailed
		errMsg = errors.Wrapf(errors.ErrExecutionTimeout, "after %s", e.opts.Timeout).Error()
	case waitErr == nil:
		status = run.StatusSuccess
	default:
		status = run.StatusFailed
		if _, isExit := waitErr.(*exec.ExitError); isExit {
			if strings.TrimSpace(stderr) != "" {
				errMsg = stderr
			} else {
				errMsg = errors.Wrapf(errors.ErrNonZeroExit, "%v", waitErr).Error()
			}
		} else {
			errMsg = waitErr.Error()
		}
	}

	e.finish(j, r, status, output, errMsg, start)
}

// spawn starts the subprocess, supervises it under the timeout, and
// reports captured output. timedOut is true when the wall-clock ceiling
// killed the process.
func (e *Engine) spawn(j *job.Job, r *run.Run, scriptPath string) (stdout, stderr string, waitErr error, timedOut bool) {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.Timeout)
	defer cancel()

	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, e.opts.Interpreter, scriptPath)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	cmd.Env = e.buildEnv(j)

	// Graceful first: context cancellation (timeout or coordinator)
	// delivers SIGTERM, and WaitDelay escalates to SIGKILL if the process
	// ignores it.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(termSignal)
	}
	cmd.WaitDelay = e.opts.KillGrace

	if err := cmd.Start(); err != nil {
		return "", "", errors.Wrapf(errors.ErrSpawnFailure, "%s %s: %v", e.opts.Interpreter, scriptPath, err), false
	}

	e.registry.add(&TrackedRun{
		RunID:     r.ID,
		JobID:     j.ID,
		PID:       cmd.Process.Pid,
		StartedAt: r.StartedAt,
		process:   cmd.Process,
		cancel:    cancel,
	})
	defer e.registry.remove(r.ID)

	waitErr = cmd.Wait()
	timedOut = ctx.Err() == context.DeadlineExceeded
	return outBuf.String(), errBuf.String(), waitErr, timedOut
}

// buildEnv extends the inherited environment with exactly the three job
// identity variables of the execution contract.
func (e *Engine) buildEnv(j *job.Job) []string {
	config := string(j.Config)
	if config == "" {
		config = "{}"
	}
	return append(os.Environ(),
		fmt.Sprintf("%s=%s", EnvJobConfig, config),
		fmt.Sprintf("%s=%d", EnvJobID, j.ID),
		fmt.Sprintf("%s=%s", EnvJobName, j.Name),
	)
}

// finish writes the terminal ledger row and refreshes the job's run
// bookkeeping. Runs on every path out of Execute once the row exists.
func (e *Engine) finish(j *job.Job, r *run.Run, status, output, errMsg string, start time.Time) {
	r.Complete(status, time.Now().UTC())
	r.Output = output
	r.ErrorMessage = errMsg
	if err := e.runs.Update(r); err != nil {
		e.logger.Errorw("Failed to record run outcome", "run_id", r.ID, "error", err)
	}

	if err := e.jobs.SetLastRun(j.ID, start); err != nil {
		e.logger.Warnw("Failed to update last_run_at", "job_id", j.ID, "error", err)
	}

	if j.Enabled && e.schedule != nil {
		if next, ok := e.schedule.NextFireTime(j.ID); ok {
			if err := e.jobs.SetNextRun(j.ID, &next); err != nil {
				e.logger.Warnw("Failed to refresh next_run_at", "job_id", j.ID, "error", err)
			}
		} else {
			e.logger.Warnw("No live scheduler entry, leaving next_run_at unchanged", "job_id", j.ID)
		}
	}

	if status == run.StatusSuccess {
		e.logger.Infow("Execution completed",
			"job_id", j.ID,
			"run_id", r.ID,
			"duration_s", intValue(r.DurationSeconds))
	} else {
		e.logger.Errorw("Execution failed",
			"job_id", j.ID,
			"run_id", r.ID,
			"duration_s", intValue(r.DurationSeconds),
			"error", errMsg)
	}
}

func intValue(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

// ParseJobID reads a job id out of the environment block of a process, as
// published through the execution contract.
func ParseJobID(env []string) (int64, bool) {
	prefix := EnvJobID + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			id, err := strconv.ParseInt(strings.TrimPrefix(kv, prefix), 10, 64)
			if err != nil {
				return 0, false
			}
			return id, true
		}
	}
	return 0, false
}
