package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"playground-engine/internal/engine"
	"playground-engine/internal/errors"
	"playground-engine/internal/logging"
)

// Options configure a Manager.
type Options struct {
	// NewEngine builds the engine owned by each new session.
	NewEngine func() *engine.Engine
	IdleTTL   time.Duration
	Max       int
	Logger    *logging.Logger

	// OnChange is called with the number of live sessions after it changes.
	OnChange func(live int)
}

// Manager tracks live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	newEngine func() *engine.Engine
	idleTTL   time.Duration
	max       int
	logger    *logging.Logger
	onChange  func(int)
}

func NewManager(opts Options) *Manager {
	if opts.NewEngine == nil {
		opts.NewEngine = func() *engine.Engine { return engine.New(engine.Options{}) }
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.OnChange == nil {
		opts.OnChange = func(int) {}
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		newEngine: opts.NewEngine,
		idleTTL:   opts.IdleTTL,
		max:       opts.Max,
		logger:    opts.Logger.Named("sessions"),
		onChange:  opts.OnChange,
	}
}

// Create starts a session. It fails with errors.ErrBusy once the session
// limit is reached.
func (m *Manager) Create() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.max > 0 && len(m.sessions) >= m.max {
		return nil, errors.WithHintf(errors.ErrBusy, "at most %d sessions", m.max)
	}

	s := newSession(NewID(), m.newEngine())
	m.sessions[s.ID] = s
	live := len(m.sessions)
	m.logger.Debug("session created", zap.String("session_id", s.ID), zap.Int("live", live))
	m.onChange(live)
	return s, nil
}

// Get returns a live session and records activity on it.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "session %s", id)
	}
	s.Touch()
	return s, nil
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	live := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "session %s", id)
	}
	m.onChange(live)
	s.Close()
	m.logger.Debug("session removed", zap.String("session_id", id))
	return nil
}

// List returns live sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap closes sessions that have been idle longer than the TTL and returns
// how many were removed.
func (m *Manager) Reap(now time.Time) int {
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idle(now, m.idleTTL) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	live := len(m.sessions)
	m.mu.Unlock()

	if len(expired) > 0 {
		m.onChange(live)
	}
	for _, s := range expired {
		s.Close()
		m.logger.Info("reaped idle session", zap.String("session_id", s.ID))
	}
	return len(expired)
}

// Run reaps idle sessions until ctx is done, then closes every session.
func (m *Manager) Run(ctx context.Context) {
	interval := m.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			m.Reap(now)
		case <-ctx.Done():
			m.Close()
			return
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.onChange(0)
	for _, s := range sessions {
		s.Close()
	}
}
