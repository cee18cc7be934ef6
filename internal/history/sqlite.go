package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"playground-engine/internal/engine"
	"playground-engine/internal/errors"
)

// SQLiteStore persists records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath. Use ":memory:"
// for a throwaway store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history database")
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		language TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		failure TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		value TEXT,
		execution_time_ms INTEGER NOT NULL,
		memory_usage_mb REAL NOT NULL,
		memory_limit_mb INTEGER NOT NULL,
		warnings TEXT NOT NULL DEFAULT '[]',
		simulated INTEGER NOT NULL DEFAULT 0,
		source TEXT NOT NULL,
		events TEXT NOT NULL DEFAULT '[]',
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "failed to migrate history database")
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	warnings, err := json.Marshal(rec.Warnings)
	if err != nil {
		return errors.Wrap(err, "encode warnings")
	}
	events, err := json.Marshal(rec.Events)
	if err != nil {
		return errors.Wrap(err, "encode events")
	}

	simulated := 0
	if rec.Simulated {
		simulated = 1
	}

	var value sql.NullString
	if rec.HasValue {
		value = sql.NullString{String: rec.Value, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (
			run_id, language, status, exit_code, error, failure, output, value,
			execution_time_ms, memory_usage_mb, memory_limit_mb, warnings, simulated,
			source, events, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Language, string(rec.Status), rec.ExitCode, rec.Error, string(rec.Failure),
		rec.Output, value, rec.ExecutionTimeMs, rec.MemoryUsageMB, rec.MemoryLimitMB,
		string(warnings), simulated, rec.Source, string(events),
		rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "save run %s", rec.RunID)
	}
	return nil
}

const selectColumns = `SELECT run_id, language, status, exit_code, error, failure, output, value,
	execution_time_ms, memory_usage_mb, memory_limit_mb, warnings, simulated,
	source, events, started_at, finished_at FROM runs`

func (s *SQLiteStore) Get(ctx context.Context, runID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE run_id = ?`, runID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY finished_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec                 Record
		status, failure     string
		value               sql.NullString
		warnings, events    string
		startedAt, finished int64
	)
	err := row.Scan(
		&rec.RunID, &rec.Language, &status, &rec.ExitCode, &rec.Error, &failure, &rec.Output, &value,
		&rec.ExecutionTimeMs, &rec.MemoryUsageMB, &rec.MemoryLimitMB, &warnings, &rec.Simulated,
		&rec.Source, &events, &startedAt, &finished,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = engine.State(status)
	rec.Failure = engine.FailureKind(failure)
	if value.Valid {
		rec.Value = value.String
		rec.HasValue = true
	}
	if err := json.Unmarshal([]byte(warnings), &rec.Warnings); err != nil {
		return nil, errors.Wrap(err, "decode warnings")
	}
	if err := json.Unmarshal([]byte(events), &rec.Events); err != nil {
		return nil, errors.Wrap(err, "decode events")
	}
	rec.StartedAt = time.UnixMilli(startedAt)
	rec.FinishedAt = time.UnixMilli(finished)
	return &rec, nil
}
