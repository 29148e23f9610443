// Package sched owns cron trigger registrations: it decides when jobs fire
// and hands each firing to the execution engine.
package sched

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/openetl/jobd/errors"
	"github.com/openetl/jobd/job"
)

// Executor is the downstream boundary a firing trigger calls into.
// Implemented by executor.Engine.
type Executor interface {
	Execute(jobID int64)
}

// EntryInfo describes one live scheduler entry, for reconciling persisted
// jobs against in-memory scheduler state.
type EntryInfo struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Trigger      string        `json:"trigger"`
	NextRun      time.Time     `json:"next_run"`
	Coalesce     bool          `json:"coalesce"`
	MaxInstances int           `json:"max_instances"`
	GracePeriod  time.Duration `json:"grace_period"`
}

// entry is the in-memory registration binding a trigger to a callback.
// Recurring entries hold a live cron entry; manual entries fire once in
// their own goroutine and remove themselves when the execution returns.
type entry struct {
	id     string
	name   string
	spec   string // cron expression, or "manual" for one-shot entries
	cronID cron.EntryID
	manual bool
	fireAt time.Time // one-shot entries only
}

// Scheduler registers cron triggers for enabled jobs and computes next-fire
// times in UTC.
//
// Safe for concurrent use across distinct job ids. Two concurrent Schedule
// calls for the same id race on the remove-then-add pair and resolve
// last-writer-wins; that is a documented limitation, not corrected here.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *job.Store
	executor Executor
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
}

// Fixed execution policy reported by ListEntries: firings are never
// coalesced, overlapping firings of the same entry are not limited
// (MaxInstances 0), and a late fire within the grace period still runs.
const (
	policyCoalesce     = false
	policyMaxInstances = 0
	policyGracePeriod  = time.Minute
)

// New creates a scheduler. Call Start before scheduling.
func New(jobs *job.Store, exec Executor, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		jobs:     jobs,
		executor: exec,
		logger:   logger.Named("sched"),
		entries:  make(map[string]*entry),
	}
}

// Start launches the background cron runner.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Infow("Scheduler started")
}

// Stop halts trigger firing. Executions already handed to the engine keep
// running; Stop does not wait for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Infow("Scheduler stopped")
}

// IsRunning reports whether the scheduling subsystem is live.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Schedule installs or replaces the recurring entry for a job. Any existing
// entry is removed first. Disabled jobs end up with no entry and a cleared
// next_run. A cron parse failure aborts this job only and returns
// ErrScheduleParse; batch callers log and continue.
func (s *Scheduler) Schedule(j *job.Job) error {
	entryID := recurringEntryID(j.ID)

	s.mu.Lock()
	if existing, ok := s.entries[entryID]; ok {
		s.cron.Remove(existing.cronID)
		delete(s.entries, entryID)
		s.logger.Debugw("Removed existing schedule", "job_id", j.ID)
	}
	s.mu.Unlock()

	if !j.Enabled {
		s.logger.Infow("Job disabled, clearing next run", "job_id", j.ID, "name", j.Name)
		if err := s.jobs.SetNextRun(j.ID, nil); err != nil {
			return errors.Wrapf(err, "clear next_run for job %d", j.ID)
		}
		return nil
	}

	schedule, err := cron.ParseStandard(j.CronExpression)
	if err != nil {
		s.logger.Errorw("Failed to parse cron expression",
			"job_id", j.ID,
			"name", j.Name,
			"cron", j.CronExpression,
			"error", err)
		return errors.Wrapf(errors.ErrScheduleParse, "job %d: %q: %v", j.ID, j.CronExpression, err)
	}

	jobID := j.ID
	s.mu.Lock()
	cronID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.executor.Execute(jobID)
	}))
	s.entries[entryID] = &entry{
		id:     entryID,
		name:   j.Name,
		spec:   j.CronExpression,
		cronID: cronID,
	}
	s.mu.Unlock()

	next := schedule.Next(time.Now().UTC())
	if err := s.jobs.SetNextRun(j.ID, &next); err != nil {
		return errors.Wrapf(err, "persist next_run for job %d", j.ID)
	}

	s.logger.Infow("Scheduled job",
		"job_id", j.ID,
		"name", j.Name,
		"cron", j.CronExpression,
		"next_run", next.Format(time.RFC3339))
	return nil
}

// Unschedule removes a job's recurring entry if present and clears its
// persisted next_run. A missing entry is a no-op.
func (s *Scheduler) Unschedule(jobID int64) {
	entryID := recurringEntryID(jobID)

	s.mu.Lock()
	existing, ok := s.entries[entryID]
	if ok {
		s.cron.Remove(existing.cronID)
		delete(s.entries, entryID)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debugw("Unschedule: no entry", "job_id", jobID)
		return
	}

	// Job row may already be gone (unschedule during delete).
	if err := s.jobs.SetNextRun(jobID, nil); err != nil && !errors.IsNotFound(err) {
		s.logger.Warnw("Failed to clear next_run", "job_id", jobID, "error", err)
	}
	s.logger.Infow("Unscheduled job", "job_id", jobID)
}

// ScheduleOnce installs a one-shot entry that executes the job immediately.
// The entry id embeds the fire timestamp so concurrent manual triggers for
// the same job never collide. Never panics or returns an error to the
// caller; the boolean reports whether the execution was handed off.
func (s *Scheduler) ScheduleOnce(jobID int64, jobName string) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Errorw("Manual trigger refused, scheduler not running", "job_id", jobID)
		return false
	}

	now := time.Now().UTC()
	entryID := manualEntryID(jobID, now)
	for _, taken := s.entries[entryID]; taken; _, taken = s.entries[entryID] {
		now = now.Add(time.Nanosecond)
		entryID = manualEntryID(jobID, now)
	}
	s.entries[entryID] = &entry{
		id:     entryID,
		name:   fmt.Sprintf("Manual run: %s", jobName),
		spec:   "manual",
		manual: true,
		fireAt: now,
	}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.entries, entryID)
			s.mu.Unlock()
		}()
		s.executor.Execute(jobID)
	}()

	s.logger.Infow("Manually scheduled job", "job_id", jobID, "name", jobName, "entry_id", entryID)
	return true
}

// LoadAll is the startup barrier: it clears next_run on every disabled job,
// then schedules every enabled job. A failure on one job never prevents the
// others from loading.
func (s *Scheduler) LoadAll() error {
	s.logger.Infow("Loading existing jobs")

	disabled, err := s.jobs.ListDisabled()
	if err != nil {
		return errors.Wrap(err, "list disabled jobs")
	}
	cleared := 0
	for _, j := range disabled {
		if j.NextRunAt == nil {
			continue
		}
		if err := s.jobs.SetNextRun(j.ID, nil); err != nil {
			s.logger.Warnw("Failed to clear next_run for disabled job", "job_id", j.ID, "error", err)
			continue
		}
		cleared++
	}

	enabled, err := s.jobs.ListEnabled()
	if err != nil {
		return errors.Wrap(err, "list enabled jobs")
	}
	for _, j := range enabled {
		if err := s.Schedule(j); err != nil {
			s.logger.Errorw("Failed to schedule job during load",
				"job_id", j.ID,
				"name", j.Name,
				"error", err)
		}
	}

	s.logger.Infow("Loaded jobs", "enabled", len(enabled), "disabled_cleared", cleared)
	return nil
}

// ListEntries returns a snapshot of every live entry with its next fire
// time and the scheduler's execution policy.
func (s *Scheduler) ListEntries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		next := e.fireAt
		if !e.manual {
			next = s.cron.Entry(e.cronID).Next
		}
		infos = append(infos, EntryInfo{
			ID:           e.id,
			Name:         e.name,
			Trigger:      e.spec,
			NextRun:      next,
			Coalesce:     policyCoalesce,
			MaxInstances: policyMaxInstances,
			GracePeriod:  policyGracePeriod,
		})
	}
	return infos
}

// NextFireTime returns the live next fire time of a job's recurring entry.
// The execution engine reads this through rather than recomputing from the
// cron expression.
func (s *Scheduler) NextFireTime(jobID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[recurringEntryID(jobID)]
	if !ok || e.manual {
		return time.Time{}, false
	}
	return s.cron.Entry(e.cronID).Next, true
}

// RemoveManualEntries removes one-shot entries, optionally filtered to a
// single job id (jobID == 0 removes all). Removal only prevents entries
// that have not fired yet; it cannot stop a process already spawned.
// Returns the number of entries removed.
func (s *Scheduler) RemoveManualEntries(jobID int64) int {
	prefix := "manual_"
	if jobID != 0 {
		prefix = fmt.Sprintf("manual_%d_", jobID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if !e.manual || !strings.HasPrefix(id, prefix) {
			continue
		}
		delete(s.entries, id)
		removed++
	}
	return removed
}

func recurringEntryID(jobID int64) string {
	return fmt.Sprintf("job_%d", jobID)
}

func manualEntryID(jobID int64, fireAt time.Time) string {
	return fmt.Sprintf("manual_%d_%d", jobID, fireAt.UnixNano())
}
