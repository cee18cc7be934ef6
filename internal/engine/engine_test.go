package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playground-engine/internal/errors"
	"playground-engine/internal/language"
	"playground-engine/internal/sandbox"
	"playground-engine/internal/sandbox/jsvm"
	"playground-engine/internal/sandbox/simulated"
)

func newTestEngine(t *testing.T, factories map[language.Runtime]sandbox.Factory) *Engine {
	t.Helper()
	if factories == nil {
		factories = map[language.Runtime]sandbox.Factory{
			language.RuntimeGoja:      jsvm.NewFactory(jsvm.DefaultConfig()),
			language.RuntimeSimulated: simulated.NewFactory(simulated.Config{}),
		}
	}
	return New(Options{
		Factories:     factories,
		TeardownGrace: 200 * time.Millisecond,
	})
}

func wait(t *testing.T, run *Run) *Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := run.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, summary)
	return summary
}

func contents(events []OutputEvent, kind Kind) []string {
	var out []string
	for _, event := range events {
		if event.Kind == kind {
			out = append(out, event.Content)
		}
	}
	return out
}

// countingFactory wraps a factory and counts the boundaries it creates.
type countingFactory struct {
	inner   sandbox.Factory
	created atomic.Int32
}

func (f *countingFactory) NewBoundary(ctx context.Context, spec language.Spec, limits sandbox.Limits) (sandbox.Boundary, error) {
	f.created.Add(1)
	return f.inner.NewBoundary(ctx, spec, limits)
}

// stubborn ignores Terminate until released and keeps emitting meanwhile.
type stubborn struct {
	release chan struct{}
	closed  atomic.Bool
}

func (b *stubborn) Run(ctx context.Context, source string, emit sandbox.Emitter) (sandbox.Outcome, error) {
	emit(sandbox.KindLog, "before")
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-b.release:
			emit(sandbox.KindLog, "after release")
			return sandbox.Outcome{}, sandbox.ErrTerminated
		case <-ticker.C:
			emit(sandbox.KindLog, "tick")
		}
	}
}

func (b *stubborn) Terminate() {}

func (b *stubborn) Close() error {
	b.closed.Store(true)
	return nil
}

func TestScenarioLogAndReturnValue(t *testing.T) {
	e := newTestEngine(t, nil)

	run, err := e.Execute(context.Background(), Request{Language: "javascript", Source: `log("hello"); 2 + 2`})
	require.NoError(t, err)
	summary := wait(t, run)

	assert.Equal(t, StateCompleted, summary.Status)
	assert.Equal(t, ExitSuccess, summary.ExitCode)
	assert.Equal(t, "4", summary.Value)
	assert.True(t, summary.HasValue)
	assert.Empty(t, summary.Error)
	assert.Equal(t, FailureNone, summary.Failure)
	assert.NoError(t, summary.Kind())
	assert.Equal(t, "hello\nReturn value: 4", summary.Output)
	assert.False(t, summary.Simulated)

	events := run.Events()
	require.Len(t, events, 2)
	assert.Equal(t, OutputEvent{Seq: 1, Kind: KindLog, Content: "hello", Timestamp: events[0].Timestamp}, events[0])
	assert.Equal(t, "Return value: 4", events[1].Content)
	assert.Equal(t, StateCompleted, e.State())
}

func TestScenarioThrow(t *testing.T) {
	e := newTestEngine(t, nil)

	run, err := e.Execute(context.Background(), Request{Language: "js", Source: `throw new Error("boom")`})
	require.NoError(t, err)
	summary := wait(t, run)

	assert.Equal(t, StateFailed, summary.Status)
	assert.Equal(t, ExitFailure, summary.ExitCode)
	assert.Equal(t, "boom", summary.Error)
	assert.ErrorIs(t, summary.Kind(), errors.ErrRuntimeThrow)
	assert.Equal(t, []string{"boom"}, contents(run.Events(), KindError))
}

func TestScenarioTimeoutHasNoLateEvents(t *testing.T) {
	e := newTestEngine(t, nil)

	start := time.Now()
	run, err := e.Execute(context.Background(), Request{
		Language: "javascript",
		Source:   `while (true) {}`,
		Timeout:  200 * time.Millisecond,
	})
	require.NoError(t, err)
	summary := wait(t, run)
	elapsed := time.Since(start)

	assert.Equal(t, StateTimedOut, summary.Status)
	assert.Equal(t, ExitTimeout, summary.ExitCode)
	assert.ErrorIs(t, summary.Kind(), errors.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	errs := contents(run.Events(), KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Execution timeout after 200ms", errs[0])

	settled := len(run.Events())
	time.Sleep(500 * time.Millisecond)
	assert.Len(t, run.Events(), settled)
}

func TestScenarioBackToBackExecute(t *testing.T) {
	factory := &countingFactory{inner: jsvm.NewFactory(jsvm.DefaultConfig())}
	e := newTestEngine(t, map[language.Runtime]sandbox.Factory{language.RuntimeGoja: factory})

	first, err := e.Execute(context.Background(), Request{
		Language: "javascript",
		Source:   `log("first"); while (true) {}`,
		Timeout:  300 * time.Millisecond,
	})
	require.NoError(t, err)

	second, err := e.Execute(context.Background(), Request{Language: "javascript", Source: `log("second")`})
	assert.ErrorIs(t, err, errors.ErrAlreadyRunning)
	assert.Nil(t, second)
	assert.Same(t, first, e.Current())

	wait(t, first)
	assert.Equal(t, int32(1), factory.created.Load())
	assert.NotContains(t, contents(first.Events(), KindLog), "second")
}

func TestStopOnIdleIsNoop(t *testing.T) {
	e := newTestEngine(t, nil)

	assert.NotPanics(t, func() {
		e.Stop()
		e.Stop()
	})
	assert.Equal(t, StateIdle, e.State())
	assert.Empty(t, e.Output())
	assert.Nil(t, e.Summary())
}

func TestStopRunningExecution(t *testing.T) {
	e := newTestEngine(t, nil)

	run, err := e.Execute(context.Background(), Request{Language: "javascript", Source: `log("start"); while (true) {}`})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(run.Events()) == 1 }, time.Second, 5*time.Millisecond)
	e.Stop()
	e.Stop()

	summary := run.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, StateStopped, summary.Status)
	assert.Equal(t, ExitCancelled, summary.ExitCode)
	assert.Empty(t, summary.Error)
	assert.ErrorIs(t, summary.Kind(), errors.ErrUserCancelled)
	assert.Equal(t, []string{"Execution stopped by user"}, contents(run.Events(), KindWarning))
	assert.Empty(t, contents(run.Events(), KindError))
}

func TestContextCancellationStopsRun(t *testing.T) {
	e := newTestEngine(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	run, err := e.Execute(ctx, Request{Language: "javascript", Source: `while (true) {}`})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	cancel()

	summary := wait(t, run)
	assert.Equal(t, StateStopped, summary.Status)
}

func TestClear(t *testing.T) {
	e := newTestEngine(t, nil)

	run, err := e.Execute(context.Background(), Request{Language: "javascript", Source: `while (true) {}`})
	require.NoError(t, err)
	assert.ErrorIs(t, e.Clear(), errors.ErrBusy)
	assert.Same(t, run, e.Current())

	e.Stop()
	require.NoError(t, e.Clear())

	assert.Equal(t, StateIdle, e.State())
	assert.Empty(t, e.Output())
	assert.Nil(t, e.Summary())
	assert.Nil(t, e.Current())

	next, err := e.Execute(context.Background(), Request{Language: "javascript", Source: `1`})
	require.NoError(t, err)
	wait(t, next)
	assert.NotEqual(t, run.ID, next.ID)
}

func TestChangedFollowsCurrentRun(t *testing.T) {
	e := newTestEngine(t, nil)

	changed := e.Changed()
	select {
	case <-changed:
		t.Fatal("closed before any run")
	default:
	}

	run, err := e.Execute(context.Background(), Request{Language: "javascript", Source: `1`})
	require.NoError(t, err)
	assert.True(t, isClosed(changed))
	wait(t, run)

	changed = e.Changed()
	_, err = e.Execute(context.Background(), Request{Language: "javascript", Source: `1`})
	require.NoError(t, err)
	assert.True(t, isClosed(changed))
	wait(t, e.Current())

	changed = e.Changed()
	require.NoError(t, e.Clear())
	assert.True(t, isClosed(changed))

	changed = e.Changed()
	require.NoError(t, e.Clear())
	assert.False(t, isClosed(changed), "clearing an idle engine changes nothing")
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestUnsupportedLanguage(t *testing.T) {
	factory := &countingFactory{inner: jsvm.NewFactory(jsvm.DefaultConfig())}
	e := newTestEngine(t, map[language.Runtime]sandbox.Factory{language.RuntimeGoja: factory})

	for _, lang := range []string{"cobol", "lua"} {
		run, err := e.Execute(context.Background(), Request{Language: lang, Source: "x"})
		require.NoError(t, err)

		select {
		case <-run.Done():
		default:
			t.Fatal("unsupported run should already be terminal")
		}

		summary := run.Summary()
		assert.Equal(t, StateFailed, summary.Status)
		assert.Equal(t, ExitFailure, summary.ExitCode)
		assert.ErrorIs(t, summary.Kind(), errors.ErrUnsupportedLanguage)

		events := run.Events()
		require.Len(t, events, 1)
		assert.Equal(t, KindError, events[0].Kind)
		assert.Equal(t, "Execution not supported for language: "+lang, events[0].Content)
	}
	assert.Zero(t, factory.created.Load())
}

func TestBoundaryCreationFailure(t *testing.T) {
	e := newTestEngine(t, map[language.Runtime]sandbox.Factory{
		language.RuntimeGoja: sandbox.FactoryFunc(func(context.Context, language.Spec, sandbox.Limits) (sandbox.Boundary, error) {
			return nil, errors.New("no isolates left")
		}),
	})

	run, err := e.Execute(context.Background(), Request{Language: "javascript", Source: "1"})
	require.NoError(t, err)
	summary := wait(t, run)

	assert.Equal(t, StateFailed, summary.Status)
	assert.ErrorIs(t, summary.Kind(), errors.ErrBoundaryCreation)
	assert.Contains(t, summary.Error, "no isolates left")
	require.Len(t, run.Events(), 1)
	assert.Equal(t, KindError, run.Events()[0].Kind)
}

func TestStubbornBoundaryIsGatedOff(t *testing.T) {
	b := &stubborn{release: make(chan struct{})}
	e := newTestEngine(t, map[language.Runtime]sandbox.Factory{
		language.RuntimeGoja: sandbox.FactoryFunc(func(context.Context, language.Spec, sandbox.Limits) (sandbox.Boundary, error) {
			return b, nil
		}),
	})

	run, err := e.Execute(context.Background(), Request{
		Language: "javascript",
		Timeout:  50 * time.Millisecond,
	})
	require.NoError(t, err)
	summary := wait(t, run)
	assert.Equal(t, StateTimedOut, summary.Status)

	settled := run.Events()
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	assert.Eventually(t, b.closed.Load, time.Second, 5*time.Millisecond)

	assert.Equal(t, settled, run.Events())
	assert.NotContains(t, contents(run.Events(), KindLog), "after release")
}

func TestAbandonedBoundaryIsReported(t *testing.T) {
	b := &stubborn{release: make(chan struct{})}
	defer close(b.release)
	e := newTestEngine(t, map[language.Runtime]sandbox.Factory{
		language.RuntimeGoja: sandbox.FactoryFunc(func(context.Context, language.Spec, sandbox.Limits) (sandbox.Boundary, error) {
			return b, nil
		}),
	})

	run, err := e.Execute(context.Background(), Request{Language: "javascript", Timeout: time.Minute})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(run.Events()) > 0 }, time.Second, 5*time.Millisecond)
	e.Stop()
	summary := wait(t, run)

	assert.Equal(t, StateStopped, summary.Status)
	assert.True(t, summary.Abandoned)
	require.NotEmpty(t, summary.Warnings)
	assert.Contains(t, summary.Warnings[0], "did not stop within 200ms and was abandoned")
	assert.False(t, b.closed.Load())
}

func TestCleanTeardownIsNotAbandoned(t *testing.T) {
	e := newTestEngine(t, nil)

	run, err := e.Execute(context.Background(), Request{Language: "javascript", Source: `while (true) {}`, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	summary := wait(t, run)

	assert.Equal(t, StateTimedOut, summary.Status)
	assert.False(t, summary.Abandoned)
	assert.Empty(t, summary.Warnings)
}

// panicky fails inside Run the way a broken boundary would.
type panicky struct{}

func (panicky) Run(context.Context, string, sandbox.Emitter) (sandbox.Outcome, error) {
	panic("boom")
}

func (panicky) Terminate()   {}
func (panicky) Close() error { return nil }

func TestBoundaryPanicFailsTheRun(t *testing.T) {
	e := newTestEngine(t, map[language.Runtime]sandbox.Factory{
		language.RuntimeGoja: sandbox.FactoryFunc(func(context.Context, language.Spec, sandbox.Limits) (sandbox.Boundary, error) {
			return panicky{}, nil
		}),
	})

	run, err := e.Execute(context.Background(), Request{Language: "javascript"})
	require.NoError(t, err)
	summary := wait(t, run)

	assert.Equal(t, StateFailed, summary.Status)
	assert.Contains(t, summary.Error, "boom")
}

func TestStreamDeliversInOrder(t *testing.T) {
	e := newTestEngine(t, nil)

	run, err := e.Execute(context.Background(), Request{
		Language: "javascript",
		Source:   `for (var i = 0; i < 50; i++) { console.log("line " + i) }`,
	})
	require.NoError(t, err)

	var seqs []int
	err = run.Stream(context.Background(), func(event OutputEvent) error {
		seqs = append(seqs, event.Seq)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, seqs, 50)
	for i, seq := range seqs {
		assert.Equal(t, i+1, seq)
	}
	assert.NotNil(t, run.Summary())
}

func TestStreamStopsOnCallbackError(t *testing.T) {
	e := newTestEngine(t, nil)

	run, err := e.Execute(context.Background(), Request{Language: "javascript", Source: `log(1); log(2)`})
	require.NoError(t, err)
	wait(t, run)

	stop := errors.New("enough")
	calls := 0
	err = run.Stream(context.Background(), func(OutputEvent) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestSimulatedLanguageIsFlagged(t *testing.T) {
	e := newTestEngine(t, nil)

	run, err := e.Execute(context.Background(), Request{Language: "python", Source: `print("hi")`})
	require.NoError(t, err)
	summary := wait(t, run)

	assert.Equal(t, StateCompleted, summary.Status)
	assert.True(t, summary.Simulated)
	assert.Len(t, summary.Warnings, 1)
	assert.Equal(t, "Python execution starting...\nhi", summary.Output)
	assert.Equal(t, []string{"Python execution completed"}, contents(run.Events(), KindResult))
}

func TestLanguagesOnlyListsExecutable(t *testing.T) {
	e := newTestEngine(t, map[language.Runtime]sandbox.Factory{
		language.RuntimeGoja: jsvm.NewFactory(jsvm.DefaultConfig()),
	})

	var names []string
	for _, spec := range e.Languages() {
		names = append(names, spec.Name)
	}
	assert.Equal(t, []string{"javascript", "typescript"}, names)
}

func TestMemoryLimitDefaultsFromLanguage(t *testing.T) {
	e := newTestEngine(t, nil)

	run, err := e.Execute(context.Background(), Request{Language: "sql", Source: "select 1"})
	require.NoError(t, err)
	assert.Equal(t, int64(25), wait(t, run).MemoryLimitMB)

	run, err = e.Execute(context.Background(), Request{Language: "sql", Source: "select 1", MemoryLimitMB: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), wait(t, run).MemoryLimitMB)
}
