package executor

import (
	"os"
	"sync"
	"syscall"
	"time"
)

// termSignal is the graceful shutdown signal delivered before escalating
// to a kill.
var termSignal = syscall.SIGTERM

// TrackedRun is the engine's record of one live spawned process. The
// termination coordinator consults these before falling back to scanning
// the OS process table.
type TrackedRun struct {
	RunID     string
	JobID     int64
	PID       int
	StartedAt time.Time

	process *os.Process
	cancel  func()
}

// Terminate sends the graceful termination signal to the process.
func (t *TrackedRun) Terminate() error {
	return t.process.Signal(termSignal)
}

// Kill forcefully kills the process.
func (t *TrackedRun) Kill() error {
	return t.process.Kill()
}

// Cancel aborts the run through its execution context: the engine delivers
// SIGTERM and escalates to SIGKILL after the configured grace period.
func (t *TrackedRun) Cancel() {
	t.cancel()
}

// Alive reports whether the process still exists (signal 0 probe).
func (t *TrackedRun) Alive() bool {
	return t.process.Signal(syscall.Signal(0)) == nil
}

// Registry maps run ids to live process handles. It is populated by the
// engine at spawn time and drained as processes exit, so entries only ever
// describe processes spawned by this scheduler instance; runs started
// before a restart are invisible here and must be found by the process
// table scan.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*TrackedRun
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*TrackedRun)}
}

func (r *Registry) add(tracked *TrackedRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[tracked.RunID] = tracked
}

func (r *Registry) remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// Get returns the tracked run for a run id, if the process is still live.
func (r *Registry) Get(runID string) (*TrackedRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tracked, ok := r.runs[runID]
	return tracked, ok
}

// List returns a snapshot of every tracked run.
func (r *Registry) List() []*TrackedRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*TrackedRun, 0, len(r.runs))
	for _, tracked := range r.runs {
		out = append(out, tracked)
	}
	return out
}

// ListForJob returns a snapshot of tracked runs for one job.
func (r *Registry) ListForJob(jobID int64) []*TrackedRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*TrackedRun
	for _, tracked := range r.runs {
		if tracked.JobID == jobID {
			out = append(out, tracked)
		}
	}
	return out
}

// Len returns the number of live tracked runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
