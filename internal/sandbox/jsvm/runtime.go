// Package jsvm runs JavaScript in a goja VM.
//
// Each Runtime owns one VM and serves exactly one run. Before user code is
// evaluated the console surface is replaced with one that forwards to the
// run's Emitter and the globals that could reach outside the VM are removed.
// Terminate interrupts the VM from any goroutine.
package jsvm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"

	"playground-engine/internal/errors"
	"playground-engine/internal/language"
	"playground-engine/internal/sandbox"
)

// Config defines VM configuration.
type Config struct {
	// CallStackMax bounds recursion depth; zero keeps goja's default.
	CallStackMax int
}

// DefaultConfig returns the configuration used by the engine.
func DefaultConfig() Config {
	return Config{CallStackMax: 1024}
}

// removedGlobals are cleared before user code runs.
var removedGlobals = []string{
	"require",
	"process",
	"module",
	"exports",
	"fetch",
	"XMLHttpRequest",
	"WebSocket",
	"importScripts",
	"postMessage",
}

// Runtime wraps a goja VM with an intercepted console.
type Runtime struct {
	vm *goja.Runtime
	// stringify is JSON.stringify as it was before user code ran.
	stringify goja.Callable

	mu   sync.Mutex
	emit sandbox.Emitter

	started    atomic.Bool
	terminated atomic.Bool
}

// New creates a VM with the restricted global scope installed.
func New(cfg Config) (*Runtime, error) {
	vm := goja.New()
	if cfg.CallStackMax > 0 {
		vm.SetMaxCallStackSize(cfg.CallStackMax)
	}

	r := &Runtime{vm: vm}
	if err := r.setupGlobals(); err != nil {
		return nil, errors.Wrap(err, "failed to set up globals")
	}
	return r, nil
}

// Run evaluates source. The completion value of the script is the outcome.
func (r *Runtime) Run(ctx context.Context, source string, emit sandbox.Emitter) (sandbox.Outcome, error) {
	if !r.started.CompareAndSwap(false, true) {
		return sandbox.Outcome{}, errors.New("runtime already used")
	}

	r.mu.Lock()
	r.emit = emit
	r.mu.Unlock()

	if r.terminated.Load() {
		return sandbox.Outcome{}, sandbox.ErrTerminated
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			r.Terminate()
		case <-finished:
		}
	}()

	val, err := r.vm.RunString(source)
	if err != nil {
		return sandbox.Outcome{}, r.classify(err)
	}
	if r.terminated.Load() {
		return sandbox.Outcome{}, sandbox.ErrTerminated
	}

	if val == nil || goja.IsUndefined(val) {
		return sandbox.Outcome{}, nil
	}

	// toString and toJSON are user code and run outside RunString here.
	var value string
	if err := r.guard(func() { value = r.format(val, true) }); err != nil {
		return sandbox.Outcome{}, err
	}
	return sandbox.Outcome{Value: value, HasValue: true}, nil
}

// guard runs fn, turning a JS throw or interrupt that escapes it into the
// matching boundary error.
func (r *Runtime) guard(fn func()) (err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		var interrupted *goja.InterruptedError
		switch x := rec.(type) {
		case *goja.Exception:
			err = &sandbox.ThrowError{Message: describe(x)}
		case error:
			if errors.As(x, &interrupted) {
				err = sandbox.ErrTerminated
			} else {
				err = &sandbox.ThrowError{Message: x.Error()}
			}
		default:
			err = &sandbox.ThrowError{Message: fmt.Sprint(x)}
		}
		if r.terminated.Load() {
			err = sandbox.ErrTerminated
		}
	}()
	fn()
	return nil
}

// Terminate interrupts the VM.
func (r *Runtime) Terminate() {
	if r.terminated.CompareAndSwap(false, true) {
		r.vm.Interrupt("terminated")
	}
}

// Close drops the console binding so nothing can be emitted afterwards.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit = nil
	return nil
}

func (r *Runtime) classify(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || r.terminated.Load() {
		return sandbox.ErrTerminated
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return &sandbox.ThrowError{Message: describe(exception)}
	}

	return &sandbox.ThrowError{Message: err.Error()}
}

// describe is exceptionMessage for values whose conversion may itself throw.
func describe(exception *goja.Exception) (msg string) {
	defer func() {
		if recover() != nil {
			msg = "Uncaught exception"
		}
	}()
	return exceptionMessage(exception)
}

// exceptionMessage returns error.message for Error objects and the string
// form of anything else that was thrown.
func exceptionMessage(exception *goja.Exception) string {
	val := exception.Value()
	if val == nil {
		return exception.Error()
	}
	if obj, ok := val.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return val.String()
}

// setupGlobals configures the console surface and strips dangerous globals.
func (r *Runtime) setupGlobals() error {
	stringify, ok := goja.AssertFunction(r.vm.Get("JSON").ToObject(r.vm).Get("stringify"))
	if !ok {
		return errors.New("JSON.stringify is not callable")
	}
	r.stringify = stringify

	for _, name := range removedGlobals {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := r.vm.NewObject()
	bindings := map[string]func(goja.FunctionCall) goja.Value{
		"log":   r.makeConsoleFunc(sandbox.KindLog, true),
		"info":  r.makeConsoleFunc(sandbox.KindLog, true),
		"debug": r.makeConsoleFunc(sandbox.KindLog, true),
		"error": r.makeConsoleFunc(sandbox.KindError, false),
		"warn":  r.makeConsoleFunc(sandbox.KindWarning, false),
	}
	for name, fn := range bindings {
		if err := console.Set(name, fn); err != nil {
			return err
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}
	if err := r.vm.Set("log", bindings["log"]); err != nil {
		return err
	}

	for _, name := range []string{"setTimeout", "setInterval"} {
		if err := r.vm.Set(name, r.makeUnavailableFunc(name)); err != nil {
			return err
		}
	}
	return nil
}

// makeConsoleFunc forwards a console call as one output line. Objects are
// pretty-printed as JSON when pretty is set.
func (r *Runtime) makeConsoleFunc(kind sandbox.Kind, pretty bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, r.format(arg, pretty))
		}
		r.send(kind, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (r *Runtime) makeUnavailableFunc(name string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		r.send(sandbox.KindWarning, name+" is not available in the sandbox")
		return goja.Undefined()
	}
}

func (r *Runtime) send(kind sandbox.Kind, content string) {
	r.mu.Lock()
	emit := r.emit
	r.mu.Unlock()
	if emit != nil && !r.terminated.Load() {
		emit(kind, content)
	}
}

// format converts a JS value for display.
func (r *Runtime) format(val goja.Value, pretty bool) string {
	if val == nil {
		return "undefined"
	}
	obj, isObject := val.(*goja.Object)
	if !pretty || !isObject {
		return val.String()
	}
	if _, isFunc := goja.AssertFunction(obj); isFunc {
		return val.String()
	}

	out, err := r.stringify(goja.Undefined(), val, goja.Null(), r.vm.ToValue(2))
	if r.terminated.Load() {
		return ""
	}
	if err != nil || out == nil || goja.IsUndefined(out) {
		return val.String()
	}
	return out.String()
}

// Factory creates a fresh Runtime per run.
type Factory struct {
	cfg Config
}

// NewFactory returns a factory for JavaScript and TypeScript boundaries.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) NewBoundary(ctx context.Context, spec language.Spec, limits sandbox.Limits) (sandbox.Boundary, error) {
	return New(f.cfg)
}
