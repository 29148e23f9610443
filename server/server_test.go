package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openetl/jobd/executor"
	jobdtest "github.com/openetl/jobd/internal/testing"
	"github.com/openetl/jobd/job"
	"github.com/openetl/jobd/kill"
	"github.com/openetl/jobd/logger"
	"github.com/openetl/jobd/run"
	"github.com/openetl/jobd/sched"
)

type testEnv struct {
	server *Server
	jobs   *job.Store
	runs   *run.Store
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := jobdtest.CreateTestDB(t)
	jobs := job.NewStore(db)
	runs := run.NewStore(db)
	lg := logger.NewTest()
	dir := t.TempDir()

	engine := executor.New(jobs, runs, executor.Options{
		ScriptsDir:  dir,
		Interpreter: "/bin/sh",
		Timeout:     time.Minute,
		KillGrace:   time.Second,
	}, lg)
	scheduler := sched.New(jobs, engine, lg)
	engine.SetNextRunSource(scheduler)
	scheduler.Start()
	t.Cleanup(scheduler.Stop)

	coordinator := kill.New(scheduler, runs, engine.Registry(),
		kill.Options{Interpreter: "no-such-interpreter"}, lg)

	s := New(":0", jobs, runs, scheduler, engine, coordinator, lg)
	return &testEnv{server: s, jobs: jobs, runs: runs, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestCreateJob(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"name":            "nightly-load",
		"description":     "loads the warehouse",
		"script_path":     "load.sh",
		"cron_expression": "0 2 * * *",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created job.Job
	decode(t, rec, &created)
	assert.Equal(t, "nightly-load", created.Name)
	assert.True(t, created.Enabled)
	require.NotNil(t, created.NextRunAt)
	assert.Equal(t, 2, created.NextRunAt.UTC().Hour())

	rec = env.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListJobsResponse
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count)
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"script_path":     "x.sh",
		"cron_expression": "0 2 * * *",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"name":            "bad-cron",
		"script_path":     "x.sh",
		"cron_expression": "99 99 * * *",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cron")
}

func TestCreateJobDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]interface{}{
		"name":            "dup",
		"script_path":     "x.sh",
		"cron_expression": "0 2 * * *",
	}

	rec := env.do(t, http.MethodPost, "/api/jobs", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/jobs", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/jobs/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateJobDisable(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"name":            "toggle",
		"script_path":     "x.sh",
		"cron_expression": "*/5 * * * *",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created job.Job
	decode(t, rec, &created)

	rec = env.do(t, http.MethodPut, "/api/jobs/"+itoa(created.ID), map[string]interface{}{
		"enabled": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated job.Job
	decode(t, rec, &updated)
	assert.False(t, updated.Enabled)
	assert.Nil(t, updated.NextRunAt)

	rec = env.do(t, http.MethodGet, "/api/debug/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries struct {
		Count int `json:"count"`
	}
	decode(t, rec, &entries)
	assert.Zero(t, entries.Count)
}

func TestDeleteJob(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"name":            "gone",
		"script_path":     "x.sh",
		"cron_expression": "0 0 * * *",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created job.Job
	decode(t, rec, &created)

	rec = env.do(t, http.MethodDelete, "/api/jobs/"+itoa(created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs/"+itoa(created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/jobs/"+itoa(created.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunJobNow(t *testing.T) {
	env := newTestEnv(t)
	script := filepath.Join(env.dir, "ok.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho done\n"), 0o755))

	rec := env.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"name":            "manual",
		"script_path":     "ok.sh",
		"cron_expression": "0 0 * * *",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created job.Job
	decode(t, rec, &created)

	rec = env.do(t, http.MethodPost, "/api/jobs/"+itoa(created.ID)+"/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		runs, err := env.runs.ListForJob(created.ID, 10)
		return err == nil && len(runs) == 1 && runs[0].Status == run.StatusSuccess
	}, 5*time.Second, 20*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/api/jobs/"+itoa(created.ID)+"/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history ListRunsResponse
	decode(t, rec, &history)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, "done\n", history.Runs[0].Output)
}

func TestListRunsUnknownJob(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/jobs/404/runs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTerminateJob(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"name":            "victim",
		"script_path":     "x.sh",
		"cron_expression": "0 0 * * *",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created job.Job
	decode(t, rec, &created)

	// A stale running row, as if left behind by a crashed process.
	stale := run.NewRun(created.ID, time.Now())
	require.NoError(t, env.runs.Create(stale))

	rec = env.do(t, http.MethodPost, "/api/jobs/"+itoa(created.ID)+"/terminate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res kill.Result
	decode(t, rec, &res)
	assert.Equal(t, 1, res.RunsFailed)

	got, err := env.runs.Get(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, got.Status)
	assert.Equal(t, kill.TerminatedMessage, got.ErrorMessage)
}

func TestSystemStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status SystemStatus
	decode(t, rec, &status)
	assert.True(t, status.SchedulerRunning)
	assert.Zero(t, status.Jobs)
	assert.Zero(t, status.RunningExecutions)
	assert.Positive(t, status.Goroutines)
}

func TestSystemTerminateEmpty(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/system/terminate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res kill.Result
	decode(t, rec, &res)
	assert.Zero(t, res.RunsFailed)
	assert.Empty(t, res.Failures)
}

func TestDebugRefresh(t *testing.T) {
	env := newTestEnv(t)

	j := &job.Job{Name: "persisted", ScriptPath: "x.sh", CronExpression: "*/10 * * * *", Enabled: true}
	require.NoError(t, env.jobs.Create(j))

	rec := env.do(t, http.MethodPost, "/api/debug/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/debug/entries", nil)
	var entries struct {
		Count int `json:"count"`
	}
	decode(t, rec, &entries)
	assert.Equal(t, 1, entries.Count)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/jobs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/system/terminate", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
