// Package sandbox defines the isolation boundary that untrusted code runs in.
//
// A Boundary is created fresh for every run and is never reused. The engine
// drives it from a supervising goroutine: Run blocks on the boundary's own
// goroutine while the supervisor owns the wall-clock timer and calls
// Terminate when the budget elapses or the user stops the run.
//
// Implementations live in sub-packages (jsvm, luavm, simulated) and in
// internal/executor for the container runtime.
package sandbox

import (
	"context"
	"time"

	"playground-engine/internal/errors"
	"playground-engine/internal/language"
)

// Kind classifies one piece of output.
type Kind string

const (
	KindLog     Kind = "log"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindResult  Kind = "result"
)

// Emitter forwards output produced inside a boundary. It is safe to call
// from any goroutine; output emitted after the run has been sealed is
// dropped.
type Emitter func(kind Kind, content string)

// Limits are the budgets a boundary is created with.
type Limits struct {
	Timeout       time.Duration
	MemoryLimitMB int64
}

// Outcome is reported by a boundary whose code returned normally.
type Outcome struct {
	Value    string
	HasValue bool
}

// Boundary is one isolated execution context.
type Boundary interface {
	// Run executes source and blocks until it returns, throws or is
	// terminated. Thrown errors are reported as *ThrowError; a terminated
	// run returns ErrTerminated.
	Run(ctx context.Context, source string, emit Emitter) (Outcome, error)

	// Terminate forcibly stops a Run in progress. It may be called before,
	// during or after Run, any number of times, from any goroutine.
	Terminate()

	// Close releases the boundary after Run has returned.
	Close() error
}

// Factory creates boundaries for the languages of one runtime.
type Factory interface {
	NewBoundary(ctx context.Context, spec language.Spec, limits Limits) (Boundary, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, spec language.Spec, limits Limits) (Boundary, error)

func (f FactoryFunc) NewBoundary(ctx context.Context, spec language.Spec, limits Limits) (Boundary, error) {
	return f(ctx, spec, limits)
}

// ErrTerminated is returned by Run when the boundary was torn down before
// the code finished.
var ErrTerminated = errors.New("boundary terminated")

// ThrowError carries an error raised by sandboxed code, verbatim.
type ThrowError struct {
	Message string
	// ExitCode is set by process-backed boundaries; zero means 1.
	ExitCode int
}

func (e *ThrowError) Error() string {
	return e.Message
}

// Code returns the exit code to report for the throw.
func (e *ThrowError) Code() int {
	if e.ExitCode == 0 {
		return 1
	}
	return e.ExitCode
}
