// Package engine runs untrusted source in a per-run isolation boundary and
// reports its output as an ordered event stream followed by one summary.
//
// An Engine owns at most one run at a time. Execute returns immediately;
// a supervising goroutine creates the boundary, owns the wall-clock timer
// and tears the boundary down on timeout or stop. Output from a boundary
// passes through a gate owned by its run, and the gate is sealed before the
// boundary is terminated, so a dead boundary can never write into a later
// run's buffer.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"playground-engine/internal/errors"
	"playground-engine/internal/language"
	"playground-engine/internal/logging"
	"playground-engine/internal/sandbox"
	"playground-engine/internal/sandbox/jsvm"
	"playground-engine/internal/sandbox/luavm"
	"playground-engine/internal/sandbox/simulated"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultTeardownGrace = 2 * time.Second
)

// Options configure an Engine. Zero values get defaults.
type Options struct {
	Registry      *language.Registry
	Factories     map[language.Runtime]sandbox.Factory
	Logger        *logging.Logger
	Observer      Observer
	TeardownGrace time.Duration
}

// DefaultFactories returns boundary factories for every in-process runtime.
func DefaultFactories() map[language.Runtime]sandbox.Factory {
	return map[language.Runtime]sandbox.Factory{
		language.RuntimeGoja:      jsvm.NewFactory(jsvm.DefaultConfig()),
		language.RuntimeLua:       luavm.NewFactory(),
		language.RuntimeSimulated: simulated.NewFactory(simulated.DefaultConfig()),
	}
}

// Engine executes one run at a time.
type Engine struct {
	registry  *language.Registry
	factories map[language.Runtime]sandbox.Factory
	logger    *logging.Logger
	observer  Observer
	grace     time.Duration

	mu      sync.Mutex
	current *Run
	changed chan struct{}
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Registry == nil {
		opts.Registry = language.Default()
	}
	if opts.Factories == nil {
		opts.Factories = DefaultFactories()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.TeardownGrace <= 0 {
		opts.TeardownGrace = defaultTeardownGrace
	}
	return &Engine{
		registry:  opts.Registry,
		factories: opts.Factories,
		logger:    opts.Logger.Named("engine"),
		observer:  opts.Observer,
		grace:     opts.TeardownGrace,
		changed:   make(chan struct{}),
	}
}

// Execute starts a run and returns without waiting for it. While a run is
// in progress it returns errors.ErrAlreadyRunning and changes nothing.
//
// Run failures are reported through the run's events and summary, never as
// an error from Execute. Cancelling ctx stops the run.
func (e *Engine) Execute(ctx context.Context, req Request) (*Run, error) {
	e.mu.Lock()
	if e.current != nil && !e.current.State().IsTerminal() {
		e.mu.Unlock()
		return nil, errors.ErrAlreadyRunning
	}

	spec, err := e.registry.Resolve(req.Language)
	var factory sandbox.Factory
	if err == nil {
		var ok bool
		if factory, ok = e.factories[spec.Runtime]; !ok {
			err = errors.Wrapf(errors.ErrUnsupportedLanguage, "%s", req.Language)
		}
	}
	if err != nil {
		spec = language.Spec{Name: req.Language}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = spec.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	run := newRun(req, spec, timeout, e.observer)
	e.setCurrent(run)
	e.mu.Unlock()

	e.observer.RunStarted(run)

	if err != nil {
		e.logger.Debug("rejected unsupported language",
			zap.String("run_id", run.ID),
			zap.String("language", req.Language))
		run.append(KindError, "Execution not supported for language: "+req.Language)
		run.finish(&Summary{
			RunID:      run.ID,
			Language:   req.Language,
			Status:     StateFailed,
			Error:      "Execution not supported for language: " + req.Language,
			ExitCode:   ExitFailure,
			Warnings:   []string{},
			Failure:    FailureUnsupportedLanguage,
			StartedAt:  run.StartedAt,
			FinishedAt: time.Now(),
		})
		return run, nil
	}

	go e.supervise(ctx, run, factory)
	return run, nil
}

// Stop cancels the current run and waits for its teardown. It does nothing
// when no run is in progress.
func (e *Engine) Stop() {
	e.mu.Lock()
	run := e.current
	e.mu.Unlock()

	if run == nil || run.State().IsTerminal() {
		return
	}
	run.requestStop()
	<-run.Done()
}

// Clear discards the current run's output and summary. It is rejected with
// errors.ErrBusy while the run is in progress.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && !e.current.State().IsTerminal() {
		return errors.ErrBusy
	}
	if e.current != nil {
		e.setCurrent(nil)
	}
	return nil
}

// setCurrent replaces the current run and wakes Changed waiters. e.mu must
// be held.
func (e *Engine) setCurrent(run *Run) {
	e.current = run
	close(e.changed)
	e.changed = make(chan struct{})
}

// Changed returns a channel that is closed the next time Execute replaces
// the current run or Clear drops it.
func (e *Engine) Changed() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

// State returns the state of the current run, or StateIdle.
func (e *Engine) State() State {
	if run := e.Current(); run != nil {
		return run.State()
	}
	return StateIdle
}

// Current returns the current run, or nil after Clear.
func (e *Engine) Current() *Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Output returns the current run's events.
func (e *Engine) Output() []OutputEvent {
	if run := e.Current(); run != nil {
		return run.Events()
	}
	return nil
}

// Summary returns the current run's summary, or nil.
func (e *Engine) Summary() *Summary {
	if run := e.Current(); run != nil {
		return run.Summary()
	}
	return nil
}

// Languages lists the languages this engine can execute.
func (e *Engine) Languages() []language.Spec {
	all := e.registry.All()
	specs := make([]language.Spec, 0, len(all))
	for _, spec := range all {
		if _, ok := e.factories[spec.Runtime]; ok {
			specs = append(specs, spec)
		}
	}
	return specs
}
