package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"playground-engine/internal/language"
)

// Run is one execution. It owns its output buffer; nothing outside the run
// writes to it.
type Run struct {
	ID        string
	Request   Request
	Spec      language.Spec
	Timeout   time.Duration
	StartedAt time.Time

	observer Observer

	mu      sync.Mutex
	state   State
	events  []OutputEvent
	summary *Summary
	sealed  bool
	changed chan struct{}

	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newRun(req Request, spec language.Spec, timeout time.Duration, observer Observer) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Request:   req,
		Spec:      spec,
		Timeout:   timeout,
		StartedAt: time.Now(),
		observer:  observer,
		state:     StateRunning,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
}

// gate is the emitter handed to the boundary. Once the run is sealed every
// call is dropped.
func (r *Run) gate(kind Kind, content string) {
	r.add(kind, content, false)
}

// append records an engine-generated event. It ignores the seal but not
// the terminal state.
func (r *Run) append(kind Kind, content string) {
	r.add(kind, content, true)
}

func (r *Run) add(kind Kind, content string, engine bool) {
	r.mu.Lock()
	if r.summary != nil || (r.sealed && !engine) {
		r.mu.Unlock()
		return
	}
	event := OutputEvent{
		Seq:       len(r.events) + 1,
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	}
	r.events = append(r.events, event)
	r.notifyLocked()
	r.mu.Unlock()

	r.observer.EventEmitted(r, event)
}

// seal closes the gate. Called before the boundary is terminated or closed.
func (r *Run) seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// finish records the summary. The first call wins.
func (r *Run) finish(summary *Summary) bool {
	r.mu.Lock()
	if r.summary != nil {
		r.mu.Unlock()
		return false
	}
	r.sealed = true
	r.state = summary.Status
	r.summary = summary
	r.notifyLocked()
	r.mu.Unlock()

	r.observer.RunFinished(r, summary)
	close(r.done)
	return true
}

func (r *Run) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *Run) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Run) stopRequested() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// State returns the run's lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Events returns a snapshot of the output buffer.
func (r *Run) Events() []OutputEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OutputEvent(nil), r.events...)
}

// Summary returns the terminal record, or nil while the run is in progress.
func (r *Run) Summary() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

// Done is closed once the summary is available and observers have seen it.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run is terminal or ctx is done.
func (r *Run) Wait(ctx context.Context) (*Summary, error) {
	select {
	case <-r.done:
		return r.Summary(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stream calls fn for every event in order, as they are produced, and
// returns once the run is terminal and all events have been delivered. An
// error from fn stops delivery and is returned.
func (r *Run) Stream(ctx context.Context, fn func(OutputEvent) error) error {
	next := 0
	for {
		r.mu.Lock()
		pending := append([]OutputEvent(nil), r.events[next:]...)
		changed := r.changed
		finished := r.summary != nil
		r.mu.Unlock()

		for _, event := range pending {
			if err := fn(event); err != nil {
				return err
			}
		}
		next += len(pending)

		if finished {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
