package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openetl/jobd/errors"
	jobdtest "github.com/openetl/jobd/internal/testing"
)

func newJob(name string) *Job {
	return &Job{
		Name:           name,
		Description:    "nightly load",
		ScriptPath:     "loader.py",
		CronExpression: "0 2 * * *",
		Enabled:        true,
		Config:         []byte(`{"symbols":["AAPL"]}`),
	}
}

func TestCreateAndGet(t *testing.T) {
	store := NewStore(jobdtest.CreateTestDB(t))

	j := newJob("nightly-load")
	require.NoError(t, store.Create(j))
	require.NotZero(t, j.ID)

	got, err := store.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly-load", got.Name)
	assert.Equal(t, "0 2 * * *", got.CronExpression)
	assert.True(t, got.Enabled)
	assert.JSONEq(t, `{"symbols":["AAPL"]}`, string(got.Config))
	assert.Nil(t, got.LastRunAt)
	assert.Nil(t, got.NextRunAt)
}

func TestGetNotFound(t *testing.T) {
	store := NewStore(jobdtest.CreateTestDB(t))

	_, err := store.Get(999)
	assert.True(t, errors.Is(err, errors.ErrJobNotFound))
}

func TestNameUnique(t *testing.T) {
	store := NewStore(jobdtest.CreateTestDB(t))

	require.NoError(t, store.Create(newJob("dup")))
	err := store.Create(newJob("dup"))
	assert.Error(t, err)
}

func TestListEnabledDisabled(t *testing.T) {
	store := NewStore(jobdtest.CreateTestDB(t))

	enabled := newJob("on")
	require.NoError(t, store.Create(enabled))

	disabled := newJob("off")
	disabled.Enabled = false
	require.NoError(t, store.Create(disabled))

	on, err := store.ListEnabled()
	require.NoError(t, err)
	require.Len(t, on, 1)
	assert.Equal(t, "on", on[0].Name)

	off, err := store.ListDisabled()
	require.NoError(t, err)
	require.Len(t, off, 1)
	assert.Equal(t, "off", off[0].Name)
}

func TestUpdate(t *testing.T) {
	store := NewStore(jobdtest.CreateTestDB(t))

	j := newJob("update-me")
	require.NoError(t, store.Create(j))

	j.CronExpression = "*/5 * * * *"
	j.Enabled = false
	require.NoError(t, store.Update(j))

	got, err := store.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", got.CronExpression)
	assert.False(t, got.Enabled)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestDelete(t *testing.T) {
	store := NewStore(jobdtest.CreateTestDB(t))

	j := newJob("doomed")
	require.NoError(t, store.Create(j))
	require.NoError(t, store.Delete(j.ID))

	_, err := store.Get(j.ID)
	assert.True(t, errors.Is(err, errors.ErrJobNotFound))

	err = store.Delete(j.ID)
	assert.True(t, errors.Is(err, errors.ErrJobNotFound))
}

func TestSetNextRun(t *testing.T) {
	store := NewStore(jobdtest.CreateTestDB(t))

	j := newJob("timed")
	require.NoError(t, store.Create(j))

	next := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetNextRun(j.ID, &next))

	got, err := store.Get(j.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(next))

	// Clearing must null the column, not zero it.
	require.NoError(t, store.SetNextRun(j.ID, nil))
	got, err = store.Get(j.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRunAt)
}

func TestSetLastRun(t *testing.T) {
	store := NewStore(jobdtest.CreateTestDB(t))

	j := newJob("ran")
	require.NoError(t, store.Create(j))

	start := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetLastRun(j.ID, start))

	got, err := store.Get(j.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(start))
}
