package scriptwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	jobdtest "github.com/openetl/jobd/internal/testing"
	"github.com/openetl/jobd/job"
)

func newObservedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.WarnLevel)
	return zap.New(core).Sugar(), logs
}

func TestWarnsWhenEnabledJobScriptRemoved(t *testing.T) {
	dir := t.TempDir()
	jobs := job.NewStore(jobdtest.CreateTestDB(t))

	script := filepath.Join(dir, "etl.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	j := &job.Job{Name: "etl", ScriptPath: "etl.sh", CronExpression: "0 * * * *", Enabled: true}
	require.NoError(t, jobs.Create(j))

	lg, logs := newObservedLogger()
	w, err := New(dir, jobs, lg)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.Remove(script))

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("Script for enabled job removed").Len() == 1
	}, 5*time.Second, 20*time.Millisecond)

	entry := logs.FilterMessage("Script for enabled job removed").All()[0]
	assert.Equal(t, "etl", entry.ContextMap()["name"])
}

func TestIgnoresUnrelatedAndDisabledScripts(t *testing.T) {
	dir := t.TempDir()
	jobs := job.NewStore(jobdtest.CreateTestDB(t))

	other := filepath.Join(dir, "scratch.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))

	disabledScript := filepath.Join(dir, "off.sh")
	require.NoError(t, os.WriteFile(disabledScript, []byte("#!/bin/sh\n"), 0o755))
	j := &job.Job{Name: "off", ScriptPath: "off.sh", CronExpression: "0 * * * *", Enabled: false}
	require.NoError(t, jobs.Create(j))

	lg, logs := newObservedLogger()
	w, err := New(dir, jobs, lg)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.Remove(other))
	require.NoError(t, os.Remove(disabledScript))

	// Give the event loop time to process both removals.
	time.Sleep(500 * time.Millisecond)
	assert.Zero(t, logs.FilterMessage("Script for enabled job removed").Len())
}
