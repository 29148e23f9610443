// Package kill implements best-effort termination of job activity across
// three views of the system: pending manual scheduler entries, running
// ledger rows, and live OS processes.
package kill

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/openetl/jobd/executor"
	"github.com/openetl/jobd/run"
)

// TerminatedMessage is the synthetic error message stamped onto runs that
// were force-failed by a termination request rather than by their own exit.
const TerminatedMessage = "terminated by user request"

// scanGrace is how long the process-table sweep waits after SIGTERM before
// escalating to SIGKILL.
const scanGrace = 5 * time.Second

// EntryRemover is the scheduler-side view: dropping one-shot entries that
// have not fired yet. Implemented by sched.Scheduler.
type EntryRemover interface {
	RemoveManualEntries(jobID int64) int
}

// Failure records one target the coordinator could not terminate. Failures
// never abort the sweep; they accumulate here.
type Failure struct {
	View   string `json:"view"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

// Result summarizes one termination sweep across all three views.
type Result struct {
	EntriesRemoved  int       `json:"entries_removed"`
	RunsFailed      int       `json:"runs_failed"`
	ProcessesKilled int       `json:"processes_killed"`
	Failures        []Failure `json:"failures,omitempty"`
}

func (r *Result) fail(view, target string, err error) {
	r.Failures = append(r.Failures, Failure{View: view, Target: target, Error: err.Error()})
}

// Options configures process-table matching.
type Options struct {
	// Interpreter is the script interpreter whose processes the table scan
	// considers (matched by base name).
	Interpreter string
	// ScriptsDir also marks a process as ours when it appears on the
	// command line, for interpreters invoked through a wrapper.
	ScriptsDir string
}

// Coordinator drives termination sweeps. Each sweep works through the
// scheduler's pending entries, the ledger's running rows, and the OS
// process table in that order, recording failures instead of stopping.
type Coordinator struct {
	sched    EntryRemover
	runs     *run.Store
	registry *executor.Registry
	opts     Options
	logger   *zap.SugaredLogger
}

// New creates a coordinator.
func New(sched EntryRemover, runs *run.Store, registry *executor.Registry, opts Options, logger *zap.SugaredLogger) *Coordinator {
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}
	return &Coordinator{
		sched:    sched,
		runs:     runs,
		registry: registry,
		opts:     opts,
		logger:   logger.Named("kill"),
	}
}

// TerminateAll sweeps every job's activity.
func (c *Coordinator) TerminateAll() *Result {
	return c.sweep(0)
}

// TerminateOne sweeps a single job's activity.
func (c *Coordinator) TerminateOne(jobID int64) *Result {
	return c.sweep(jobID)
}

// sweep runs the three views for one job, or all jobs when jobID is zero.
// The ledger is force-failed before processes are signalled so a run row
// never outlives its process as "running"; engine-tracked processes write
// their own terminal update afterwards, which lands on an already terminal
// row and is harmless.
func (c *Coordinator) sweep(jobID int64) *Result {
	res := &Result{}

	res.EntriesRemoved = c.sched.RemoveManualEntries(jobID)

	c.failRunningRows(jobID, res)
	tracked := c.cancelTracked(jobID, res)
	c.scanProcessTable(jobID, tracked, res)

	c.logger.Infow("Termination sweep completed",
		"job_id", jobID,
		"entries_removed", res.EntriesRemoved,
		"runs_failed", res.RunsFailed,
		"processes_killed", res.ProcessesKilled,
		"failures", len(res.Failures))
	return res
}

// failRunningRows stamps every running ledger row terminal with the
// synthetic termination message.
func (c *Coordinator) failRunningRows(jobID int64, res *Result) {
	var running []*run.Run
	var err error
	if jobID == 0 {
		running, err = c.runs.ListRunning()
	} else {
		running, err = c.runs.ListRunningForJob(jobID)
	}
	if err != nil {
		res.fail("ledger", "list running", err)
		return
	}

	now := time.Now().UTC()
	for _, r := range running {
		r.Complete(run.StatusFailed, now)
		r.ErrorMessage = TerminatedMessage
		if err := c.runs.Update(r); err != nil {
			res.fail("ledger", r.ID, err)
			continue
		}
		res.RunsFailed++
	}
}

// cancelTracked terminates processes the engine spawned and still tracks,
// and returns their PIDs so the process-table scan skips them.
func (c *Coordinator) cancelTracked(jobID int64, res *Result) map[int]bool {
	var tracked []*executor.TrackedRun
	if jobID == 0 {
		tracked = c.registry.List()
	} else {
		tracked = c.registry.ListForJob(jobID)
	}

	seen := make(map[int]bool, len(tracked))
	for _, t := range tracked {
		seen[t.PID] = true
		t.Cancel()
		res.ProcessesKilled++
		c.logger.Infow("Cancelled tracked run",
			"run_id", t.RunID, "job_id", t.JobID, "pid", t.PID)
	}
	return seen
}

// scanProcessTable finds interpreter processes carrying the job identity
// environment that the registry does not know about, typically survivors
// of a previous scheduler process, and terminates them with a grace period
// before killing.
func (c *Coordinator) scanProcessTable(jobID int64, skip map[int]bool, res *Result) {
	procs, err := process.Processes()
	if err != nil {
		res.fail("process", "list processes", err)
		return
	}

	self := os.Getpid()
	for _, p := range procs {
		pid := int(p.Pid)
		if pid == self || skip[pid] {
			continue
		}
		if !c.matches(p, jobID) {
			continue
		}

		target := strconv.Itoa(pid)
		if err := p.Terminate(); err != nil {
			res.fail("process", target, err)
			continue
		}
		if !waitGone(p, scanGrace) {
			if err := p.Kill(); err != nil {
				res.fail("process", target, err)
				continue
			}
		}
		res.ProcessesKilled++
		c.logger.Infow("Killed orphaned job process", "pid", pid, "job_id", jobID)
	}
}

// matches reports whether a process belongs to this system's jobs: it must
// look like the configured interpreter (or reference the scripts
// directory), and its environment must carry a job id, matching the filter
// when one is set. Unreadable processes are skipped, not errors.
func (c *Coordinator) matches(p *process.Process, jobID int64) bool {
	name, err := p.Name()
	if err != nil {
		return false
	}
	interpreterMatch := name == filepath.Base(c.opts.Interpreter)
	if !interpreterMatch && c.opts.ScriptsDir != "" {
		cmdline, err := p.Cmdline()
		if err != nil {
			return false
		}
		interpreterMatch = containsPath(cmdline, c.opts.ScriptsDir)
	}
	if !interpreterMatch {
		return false
	}

	env, err := p.Environ()
	if err != nil {
		return false
	}
	id, ok := executor.ParseJobID(env)
	if !ok {
		return false
	}
	return jobID == 0 || id == jobID
}

func containsPath(cmdline, dir string) bool {
	return dir != "/" && filepath.IsAbs(dir) && strings.Contains(cmdline, dir)
}

// waitGone polls until the process disappears or the grace period runs
// out.
func waitGone(p *process.Process, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		alive, err := p.IsRunning()
		if err != nil || !alive {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
