package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"playground-engine/internal/engine"
)

// Session is one playground panel: an engine plus the bookkeeping that
// decides when it can be reaped.
type Session struct {
	ID        string
	CreatedAt time.Time
	Engine    *engine.Engine

	mu         sync.Mutex
	state      State
	lastActive time.Time
	activeWS   int

	done     chan struct{}
	doneOnce sync.Once
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.New().String()
}

func newSession(id string, eng *engine.Engine) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		Engine:     eng,
		state:      StateActive,
		lastActive: now,
		done:       make(chan struct{}),
	}
}

// Touch records activity.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns the time of the last recorded activity.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AttachWS registers a websocket. Attached sessions are never reaped.
func (s *Session) AttachWS() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeWS++
	s.lastActive = time.Now()
}

// DetachWS unregisters a websocket and reports whether it was the last one.
// The idle clock restarts from here.
func (s *Session) DetachWS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeWS > 0 {
		s.activeWS--
	}
	s.lastActive = time.Now()
	return s.activeWS == 0
}

// ActiveWSCount returns the number of attached websockets.
func (s *Session) ActiveWSCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeWS
}

// idle reports whether the session can be reaped at now.
func (s *Session) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeWS > 0 || s.state == StateClosed {
		return false
	}
	if s.Engine.State() == engine.StateRunning {
		return false
	}
	return now.Sub(s.lastActive) > ttl
}

// Close stops any running execution and marks the session closed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.Engine.Stop()
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
