// Package luavm runs Lua chunks in a gopher-lua state with only the safe
// standard libraries loaded.
package luavm

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"playground-engine/internal/errors"
	"playground-engine/internal/language"
	"playground-engine/internal/sandbox"
)

// Runtime executes one Lua chunk.
type Runtime struct {
	L *lua.LState

	mu     sync.Mutex
	emit   sandbox.Emitter
	cancel context.CancelFunc

	started    atomic.Bool
	terminated atomic.Bool
}

// New creates a Lua state without io, os, package or debug.
func New() *Runtime {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: false,
	})

	r := &Runtime{L: L}
	r.openSafeLibs()
	r.registerAPI()
	return r
}

// Run loads and calls the chunk. Values returned by the chunk become the
// outcome, joined with tabs.
func (r *Runtime) Run(ctx context.Context, source string, emit sandbox.Emitter) (sandbox.Outcome, error) {
	if !r.started.CompareAndSwap(false, true) {
		return sandbox.Outcome{}, errors.New("runtime already used")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.emit = emit
	r.cancel = cancel
	r.mu.Unlock()

	if r.terminated.Load() {
		return sandbox.Outcome{}, sandbox.ErrTerminated
	}

	r.L.SetContext(runCtx)

	fn, err := r.L.LoadString(source)
	if err != nil {
		return sandbox.Outcome{}, &sandbox.ThrowError{Message: err.Error()}
	}

	base := r.L.GetTop()
	r.L.Push(fn)
	if err := r.L.PCall(0, lua.MultRet, nil); err != nil {
		return sandbox.Outcome{}, r.classify(runCtx, err)
	}

	n := r.L.GetTop() - base
	if n <= 0 {
		return sandbox.Outcome{}, nil
	}

	// __tostring is user code, so the values are converted in protected mode.
	r.L.Insert(r.L.NewFunction(joinValues), base+1)
	if err := r.L.PCall(n, 1, nil); err != nil {
		return sandbox.Outcome{}, r.classify(runCtx, err)
	}
	value := r.L.Get(-1).String()
	r.L.Pop(1)
	return sandbox.Outcome{Value: value, HasValue: true}, nil
}

func (r *Runtime) classify(ctx context.Context, err error) error {
	if r.terminated.Load() || ctx.Err() != nil {
		return sandbox.ErrTerminated
	}
	return &sandbox.ThrowError{Message: errorMessage(err)}
}

// joinValues converts its arguments with tostring semantics and returns them
// joined with tabs.
func joinValues(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	L.Push(lua.LString(strings.Join(parts, "\t")))
	return 1
}

// Terminate cancels the state's context; the VM raises on its next
// instruction.
func (r *Runtime) Terminate() {
	if !r.terminated.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close closes the Lua state.
func (r *Runtime) Close() error {
	r.mu.Lock()
	r.emit = nil
	r.mu.Unlock()
	r.L.Close()
	return nil
}

// openSafeLibs loads base, table, string and math, then removes the base
// functions that can load code from outside the chunk.
func (r *Runtime) openSafeLibs() {
	lua.OpenBase(r.L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "collectgarbage"} {
		r.L.SetGlobal(name, lua.LNil)
	}
	lua.OpenTable(r.L)
	lua.OpenString(r.L)
	lua.OpenMath(r.L)
}

func (r *Runtime) registerAPI() {
	r.L.SetGlobal("print", r.L.NewFunction(r.output(sandbox.KindLog)))
	r.L.SetGlobal("log", r.L.NewFunction(r.output(sandbox.KindLog)))
	r.L.SetGlobal("warn", r.L.NewFunction(r.output(sandbox.KindWarning)))
}

// output builds a print-like function: arguments are converted with
// tostring semantics and joined with tabs.
func (r *Runtime) output(kind sandbox.Kind) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		r.send(kind, strings.Join(parts, "\t"))
		return 0
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

// errorMessage strips the traceback gopher-lua appends to raised errors.
func errorMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

// Factory creates a fresh Lua state per run.
type Factory struct{}

// NewFactory returns a factory for Lua boundaries.
func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) NewBoundary(ctx context.Context, spec language.Spec, limits sandbox.Limits) (sandbox.Boundary, error) {
	return New(), nil
}
