// Package errors provides error handling for the playground engine.
//
// It re-exports github.com/cockroachdb/errors so callers get stack traces,
// wrapping and hints from a single import, and defines the sentinel errors
// that classify how a run or a call failed.
//
//	if err := boundary.Start(); err != nil {
//	    return errors.Wrap(errors.ErrBoundaryCreation, err.Error())
//	}
//
//	if errors.Is(err, errors.ErrAlreadyRunning) {
//	    // the call was a no-op
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
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	Mark         = crdb.Mark
)

// Error inspection
var (
	Is          = crdb.Is
	IsAny       = crdb.IsAny
	As          = crdb.As
	Unwrap      = crdb.Unwrap
	UnwrapAll   = crdb.UnwrapAll
	GetAllHints = crdb.GetAllHints
)

// Run failure taxonomy. These never escape Engine.Execute as Go errors; they
// classify a terminal summary (see engine.Summary.Kind).
var (
	// ErrUnsupportedLanguage: the language is not in the execution-capable set.
	ErrUnsupportedLanguage = New("unsupported language")

	// ErrRuntimeThrow: sandboxed code raised an error.
	ErrRuntimeThrow = New("runtime error")

	// ErrTimeout: the wall-clock budget elapsed and the boundary was destroyed.
	ErrTimeout = New("execution timed out")

	// ErrUserCancelled: the caller stopped the run.
	ErrUserCancelled = New("execution stopped by user")

	// ErrBoundaryCreation: the isolation primitive could not be instantiated.
	ErrBoundaryCreation = New("isolation boundary could not be created")
)

// Call-level rejections, returned directly to the caller.
var (
	// ErrAlreadyRunning: Execute was called while a run is in progress.
	ErrAlreadyRunning = New("execution already in progress")

	// ErrBusy: the operation is not permitted while a run is in progress,
	// or a capacity limit has been reached.
	ErrBusy = New("resource busy")

	// ErrNotFound: the requested session or run does not exist.
	ErrNotFound = New("not found")
)

// IsRejection reports whether err is a call-level rejection rather than a
// failure of the underlying operation.
func IsRejection(err error) bool {
	return IsAny(err, ErrAlreadyRunning, ErrBusy)
}
