package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateCreatesSchema(t *testing.T) {
	conn := openMemory(t)
	require.NoError(t, Migrate(conn, nil))

	for _, table := range []string{"schema_migrations", "jobs", "job_runs"} {
		var name string
		err := conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	conn := openMemory(t)
	require.NoError(t, Migrate(conn, nil))
	require.NoError(t, Migrate(conn, nil))

	var count int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestOpenAppliesPragmas(t *testing.T) {
	path := t.TempDir() + "/test.db"
	conn, err := Open(path, nil)
	require.NoError(t, err)
	defer conn.Close()

	var fk int
	require.NoError(t, conn.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var mode string
	require.NoError(t, conn.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
