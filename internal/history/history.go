// Package history keeps finished executions so they can be listed and
// inspected after their session is gone.
package history

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"playground-engine/internal/engine"
	"playground-engine/internal/errors"
	"playground-engine/internal/logging"
)

// Record is one finished execution.
type Record struct {
	engine.Summary
	Source string               `json:"code"`
	Events []engine.OutputEvent `json:"events,omitempty"`
}

// Store persists records. List returns the newest first.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Get(ctx context.Context, runID string) (*Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Recorder saves every finished run into a store.
type Recorder struct {
	engine.NopObserver

	store  Store
	logger *logging.Logger
}

func NewRecorder(store Store, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recorder{store: store, logger: logger.Named("history")}
}

func (r *Recorder) RunFinished(run *engine.Run, summary *engine.Summary) {
	rec := Record{
		Summary: *summary,
		Source:  run.Request.Source,
		Events:  run.Events(),
	}
	if err := r.store.Save(context.Background(), rec); err != nil {
		r.logger.Error("failed to save run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// MemoryStore keeps the most recent records in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	max     int
}

// NewMemoryStore keeps at most max records; zero means 100.
func NewMemoryStore(max int) *MemoryStore {
	if max <= 0 {
		max = 100
	}
	return &MemoryStore{max: max}
}

func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	if over := len(s.records) - s.max; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.records {
		if s.records[i].RunID == runID {
			rec := s.records[i]
			return &rec, nil
		}
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "run %s", runID)
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}
	out := make([]Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
