// Package simulated provides boundaries for languages that have no real
// interpreter in the engine. Source is pattern-matched, never evaluated, and
// every run announces that with a warning.
package simulated

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"playground-engine/internal/errors"
	"playground-engine/internal/language"
	"playground-engine/internal/sandbox"
)

// Config holds the artificial latency of each simulator.
type Config struct {
	PythonDelay time.Duration
	SQLDelay    time.Duration
}

// DefaultConfig returns the latencies the playground has always shown.
func DefaultConfig() Config {
	return Config{
		PythonDelay: time.Second,
		SQLDelay:    800 * time.Millisecond,
	}
}

type script func(source string, emit sandbox.Emitter)

// Boundary runs one simulator. The delay is interruptible by Terminate and
// by context cancellation.
type Boundary struct {
	language string
	intro    string
	delay    time.Duration
	body     script

	once    sync.Once
	stop    chan struct{}
	started atomic.Bool
}

func newBoundary(name, intro string, delay time.Duration, body script) *Boundary {
	return &Boundary{
		language: name,
		intro:    intro,
		delay:    delay,
		body:     body,
		stop:     make(chan struct{}),
	}
}

// NewPython returns a simulated Python boundary.
func NewPython(delay time.Duration) *Boundary {
	return newBoundary("python", "Python execution starting...", delay, simulatePython)
}

// NewSQL returns a simulated SQL boundary.
func NewSQL(delay time.Duration) *Boundary {
	return newBoundary("sql", "SQL query execution starting...", delay, simulateSQL)
}

func (b *Boundary) Run(ctx context.Context, source string, emit sandbox.Emitter) (sandbox.Outcome, error) {
	if !b.started.CompareAndSwap(false, true) {
		return sandbox.Outcome{}, errors.New("boundary already used")
	}

	select {
	case <-b.stop:
		return sandbox.Outcome{}, sandbox.ErrTerminated
	default:
	}

	emit(sandbox.KindLog, b.intro)
	emit(sandbox.KindWarning, b.language+" execution is simulated: output is pattern-matched, not evaluated")

	timer := time.NewTimer(b.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-b.stop:
		return sandbox.Outcome{}, sandbox.ErrTerminated
	case <-ctx.Done():
		return sandbox.Outcome{}, sandbox.ErrTerminated
	}

	b.body(source, emit)
	return sandbox.Outcome{}, nil
}

func (b *Boundary) Terminate() {
	b.once.Do(func() { close(b.stop) })
}

func (b *Boundary) Close() error {
	return nil
}

var printCall = regexp.MustCompile(`print\((.*?)\)`)

// simulatePython echoes the argument of the first print call on each line
// with quotes removed.
func simulatePython(source string, emit sandbox.Emitter) {
	for _, line := range strings.Split(source, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := printCall.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		emit(sandbox.KindLog, strings.NewReplacer(`'`, "", `"`, "").Replace(m[1]))
	}
	emit(sandbox.KindResult, "Python execution completed")
}

// simulateSQL reports a canned result for the first statement keyword found.
func simulateSQL(source string, emit sandbox.Emitter) {
	upper := strings.ToUpper(source)
	switch {
	case strings.Contains(upper, "SELECT"):
		emit(sandbox.KindResult, "Query executed successfully")
		emit(sandbox.KindLog, "Rows affected: 5")
	case strings.Contains(upper, "CREATE"):
		emit(sandbox.KindResult, "Table created successfully")
	case strings.Contains(upper, "INSERT"):
		emit(sandbox.KindResult, "Records inserted successfully")
	case strings.Contains(upper, "UPDATE"):
		emit(sandbox.KindResult, "Records updated successfully")
	case strings.Contains(upper, "DELETE"):
		emit(sandbox.KindResult, "Records deleted successfully")
	}
}

// Factory creates simulator boundaries keyed by language name.
type Factory struct {
	cfg Config
}

func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) NewBoundary(ctx context.Context, spec language.Spec, limits sandbox.Limits) (sandbox.Boundary, error) {
	switch spec.Name {
	case "python":
		return NewPython(f.cfg.PythonDelay), nil
	case "sql":
		return NewSQL(f.cfg.SQLDelay), nil
	default:
		return nil, errors.Newf("no simulator for %s", spec.Name)
	}
}
