package engine

import (
	"time"

	"playground-engine/internal/errors"
	"playground-engine/internal/sandbox"
)

// Kind classifies an output event.
type Kind = sandbox.Kind

const (
	KindLog     = sandbox.KindLog
	KindError   = sandbox.KindError
	KindWarning = sandbox.KindWarning
	KindResult  = sandbox.KindResult
)

// Exit codes reported in summaries.
const (
	ExitSuccess   = 0
	ExitFailure   = 1
	ExitTimeout   = 124
	ExitCancelled = 130
)

// Request is consumed once by Execute. Zero Timeout and MemoryLimitMB fall
// back to the language defaults.
type Request struct {
	Language      string        `json:"language"`
	Source        string        `json:"code"`
	Timeout       time.Duration `json:"-"`
	MemoryLimitMB int64         `json:"memoryLimitMb,omitempty"`
}

// OutputEvent is one message produced during a run.
type OutputEvent struct {
	Seq       int       `json:"seq"`
	Kind      Kind      `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureKind names the taxonomy entry of a failed run.
type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureUnsupportedLanguage FailureKind = "unsupported_language"
	FailureRuntimeThrow        FailureKind = "runtime_throw"
	FailureTimeout             FailureKind = "timeout"
	FailureUserCancelled       FailureKind = "user_cancelled"
	FailureBoundaryCreation    FailureKind = "boundary_creation"
)

// Summary is the terminal record of a run. It is produced once, after the
// run's boundary has been torn down.
type Summary struct {
	RunID           string      `json:"runId"`
	Language        string      `json:"language"`
	Status          State       `json:"status"`
	Output          string      `json:"output"`
	Error           string      `json:"error,omitempty"`
	Value           string      `json:"value,omitempty"`
	HasValue        bool        `json:"hasValue"`
	ExecutionTimeMs int64       `json:"executionTimeMs"`
	MemoryUsageMB   float64     `json:"memoryUsageMb"`
	MemoryLimitMB   int64       `json:"memoryLimitMb"`
	ExitCode        int         `json:"exitCode"`
	Warnings        []string    `json:"warnings"`
	Simulated       bool        `json:"simulated"`
	Failure         FailureKind `json:"failure,omitempty"`
	// Abandoned is set when the boundary outlived the teardown grace and
	// may still be running when the summary is recorded.
	Abandoned  bool      `json:"abandoned,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Succeeded reports whether the run completed normally.
func (s *Summary) Succeeded() bool {
	return s.Status == StateCompleted
}

// Kind returns the sentinel from internal/errors matching the failure, or
// nil for a successful run.
func (s *Summary) Kind() error {
	switch s.Failure {
	case FailureUnsupportedLanguage:
		return errors.ErrUnsupportedLanguage
	case FailureRuntimeThrow:
		return errors.ErrRuntimeThrow
	case FailureTimeout:
		return errors.ErrTimeout
	case FailureUserCancelled:
		return errors.ErrUserCancelled
	case FailureBoundaryCreation:
		return errors.ErrBoundaryCreation
	default:
		return nil
	}
}
