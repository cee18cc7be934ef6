package engine

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"playground-engine/internal/errors"
	"playground-engine/internal/logging"
	"playground-engine/internal/sandbox"
)

type result struct {
	outcome sandbox.Outcome
	err     error
}

// verdict is everything about a terminal transition except the accounting.
type verdict struct {
	status   State
	failure  FailureKind
	err      string
	exitCode int
	outcome  sandbox.Outcome
	// abandoned is set when the boundary outlived the teardown grace.
	abandoned bool
}

// supervise drives one run from boundary creation to summary.
func (e *Engine) supervise(ctx context.Context, run *Run, factory sandbox.Factory) {
	log := e.logger.ForRun(run.ID, run.Spec.Name)

	limit := run.Request.MemoryLimitMB
	if limit <= 0 {
		limit = run.Spec.MemoryLimitMB
	}
	limits := sandbox.Limits{Timeout: run.Timeout, MemoryLimitMB: limit}

	heapBefore := heapAlloc()

	// The boundary only dies when the supervisor says so; ctx cancellation
	// is observed below and routed through the stop path.
	bctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	boundary, err := factory.NewBoundary(bctx, run.Spec, limits)
	if err != nil {
		if run.stopRequested() || ctx.Err() != nil {
			e.conclude(log, run, limit, heapBefore, stopped())
			return
		}
		log.Error("failed to create boundary", zap.Error(err))
		msg := errors.Wrap(err, "failed to create execution boundary").Error()
		run.append(KindError, msg)
		e.conclude(log, run, limit, heapBefore, verdict{
			status:   StateFailed,
			failure:  FailureBoundaryCreation,
			err:      msg,
			exitCode: ExitFailure,
		})
		return
	}

	log.Debug("boundary created", zap.Duration("timeout", run.Timeout))

	timer := time.NewTimer(run.Timeout)
	defer timer.Stop()

	results := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("boundary panicked", zap.Any("panic", rec))
				results <- result{err: errors.Newf("execution boundary panicked: %v", rec)}
			}
		}()
		out, err := boundary.Run(bctx, run.Request.Source, run.gate)
		results <- result{outcome: out, err: err}
	}()

	select {
	case res := <-results:
		run.seal()
		e.close(log, boundary)
		e.conclude(log, run, limit, heapBefore, completed(res))

	case <-timer.C:
		log.Info("run timed out")
		abandoned := e.teardown(log, boundary, cancel, results, run)
		msg := fmt.Sprintf("Execution timeout after %dms", run.Timeout.Milliseconds())
		run.append(KindError, msg)
		e.conclude(log, run, limit, heapBefore, verdict{
			status:    StateTimedOut,
			failure:   FailureTimeout,
			err:       "Execution timeout",
			exitCode:  ExitTimeout,
			abandoned: abandoned,
		})

	case <-run.stop:
		v := stopped()
		v.abandoned = e.teardown(log, boundary, cancel, results, run)
		e.conclude(log, run, limit, heapBefore, v)

	case <-ctx.Done():
		v := stopped()
		v.abandoned = e.teardown(log, boundary, cancel, results, run)
		e.conclude(log, run, limit, heapBefore, v)
	}
}

func completed(res result) verdict {
	if res.err == nil {
		return verdict{status: StateCompleted, exitCode: ExitSuccess, outcome: res.outcome}
	}
	var throw *sandbox.ThrowError
	if errors.As(res.err, &throw) {
		return verdict{
			status:   StateFailed,
			failure:  FailureRuntimeThrow,
			err:      throw.Message,
			exitCode: throw.Code(),
		}
	}
	return verdict{
		status:   StateFailed,
		failure:  FailureBoundaryCreation,
		err:      res.err.Error(),
		exitCode: ExitFailure,
	}
}

func stopped() verdict {
	return verdict{
		status:   StateStopped,
		failure:  FailureUserCancelled,
		exitCode: ExitCancelled,
	}
}

// teardown seals the run, terminates the boundary and waits for Run to
// return. If the boundary outlives the grace period it is abandoned: a
// warning is recorded, it is closed in the background once Run returns and
// its output is already gated off. The return value reports abandonment.
func (e *Engine) teardown(log *logging.Logger, boundary sandbox.Boundary, cancel context.CancelFunc, results <-chan result, run *Run) bool {
	run.seal()
	boundary.Terminate()
	cancel()

	grace := time.NewTimer(e.grace)
	defer grace.Stop()

	select {
	case <-results:
		e.close(log, boundary)
		return false
	case <-grace.C:
		log.Warn("boundary did not exit within teardown grace", zap.Duration("grace", e.grace))
		run.append(KindWarning, fmt.Sprintf(
			"Execution boundary did not stop within %dms and was abandoned; its output is discarded",
			e.grace.Milliseconds()))
		go func() {
			<-results
			e.close(log, boundary)
		}()
		return true
	}
}

func (e *Engine) close(log *logging.Logger, boundary sandbox.Boundary) {
	if err := boundary.Close(); err != nil {
		log.Warn("failed to close boundary", zap.Error(err))
	}
}

// conclude appends the verdict's events, measures the run and records the
// summary.
func (e *Engine) conclude(log *logging.Logger, run *Run, limitMB int64, heapBefore uint64, v verdict) {
	switch {
	case v.status == StateCompleted && v.outcome.HasValue:
		run.append(KindLog, "Return value: "+v.outcome.Value)
	case v.failure == FailureRuntimeThrow:
		run.append(KindError, v.err)
	case v.status == StateStopped:
		run.append(KindWarning, "Execution stopped by user")
	}

	finished := time.Now()
	usage := heapDeltaMB(heapBefore, heapAlloc())
	if limitMB > 0 && usage > float64(limitMB) {
		run.append(KindWarning, fmt.Sprintf("Memory usage %.2fMB exceeded the %dMB budget", usage, limitMB))
	}

	events := run.Events()
	output := make([]string, 0, len(events))
	warnings := []string{}
	for _, event := range events {
		switch event.Kind {
		case KindLog:
			output = append(output, event.Content)
		case KindWarning:
			warnings = append(warnings, event.Content)
		}
	}

	summary := &Summary{
		RunID:           run.ID,
		Language:        run.Spec.Name,
		Status:          v.status,
		Output:          strings.Join(output, "\n"),
		Error:           v.err,
		ExecutionTimeMs: finished.Sub(run.StartedAt).Milliseconds(),
		MemoryUsageMB:   usage,
		MemoryLimitMB:   limitMB,
		ExitCode:        v.exitCode,
		Warnings:        warnings,
		Simulated:       run.Spec.IsSimulated(),
		Failure:         v.failure,
		Abandoned:       v.abandoned,
		StartedAt:       run.StartedAt,
		FinishedAt:      finished,
	}
	if v.outcome.HasValue {
		summary.Value = v.outcome.Value
		summary.HasValue = true
	}

	if run.finish(summary) {
		log.Info("run finished",
			zap.String("status", string(summary.Status)),
			zap.Int("exit_code", summary.ExitCode),
			zap.Int64("duration_ms", summary.ExecutionTimeMs),
			zap.Float64("memory_mb", summary.MemoryUsageMB))
	}
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

// heapDeltaMB is the growth of the heap in MB, rounded to two decimals.
// The heap is shared with the host, so the figure is advisory.
func heapDeltaMB(before, after uint64) float64 {
	if after <= before {
		return 0
	}
	mb := float64(after-before) / (1 << 20)
	return math.Round(mb*100) / 100
}
