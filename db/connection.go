// Package db owns the SQLite connection and schema migrations.
package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/openetl/jobd/errors"
)

// Open opens the SQLite database at path with the settings jobd relies on.
// If logger is nil the open is silent.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// WAL allows the ledger to be read while an execution is writing.
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "enable WAL mode")
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}

	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}

	if logger != nil {
		logger.Infow("Database opened", "path", path)
	}

	return conn, nil
}
