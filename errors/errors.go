// Package errors provides error handling for jobd.
//
// It re-exports github.com/cockroachdb/errors so the rest of the codebase
// gets stack traces and error wrapping from a single import, and defines the
// sentinel errors shared across the scheduling subsystem.
//
// Usage:
//
//	if err := store.Get(id); err != nil {
//	    return errors.Wrapf(err, "load job %d", id)
//	}
//
//	if errors.Is(err, errors.ErrJobNotFound) {
//	    // handle unknown job
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// Error inspection
var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap
)

// Sentinel errors for the scheduling subsystem. Wrap these with errors.Wrap
// to add context while keeping errors.Is checks working.
var (
	// ErrJobNotFound indicates the referenced job does not exist.
	ErrJobNotFound = New("job not found")

	// ErrScheduleParse indicates a cron expression could not be parsed.
	ErrScheduleParse = New("invalid cron expression")

	// ErrScriptNotFound indicates a job's script path does not exist on disk.
	ErrScriptNotFound = New("script not found")

	// ErrExecutionTimeout indicates a spawned process exceeded the execution
	// wall-clock ceiling and was killed.
	ErrExecutionTimeout = New("execution timed out")

	// ErrNonZeroExit indicates a spawned process exited with a nonzero code.
	ErrNonZeroExit = New("process exited with nonzero status")

	// ErrSpawnFailure indicates the process could not be started at all.
	ErrSpawnFailure = New("failed to spawn process")
)

// IsNotFound reports whether err is or wraps ErrJobNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrJobNotFound)
}
