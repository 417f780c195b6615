package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maloquacious/schemactl/internal/runner"
	"github.com/maloquacious/schemactl/internal/store"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using modernc.org/sqlite.
type SQLiteStore struct {
	dbPath         string
	db             *sql.DB
	expectedSchema string
}

var _ store.Store = (*SQLiteStore)(nil)

var errNotOpen = errors.New("journal not opened")

// New creates a new SQLiteStore.
func New(dbPath string, expectedSchema string) *SQLiteStore {
	return &SQLiteStore{
		dbPath:         dbPath,
		expectedSchema: expectedSchema,
	}
}

// Open opens the SQLite database with safe defaults.
func (s *SQLiteStore) Open() error {
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	// Apply safe defaults
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InitSchema creates the journal tables and records the schema version.
func (s *SQLiteStore) InitSchema(version string) error {
	if s.db == nil {
		return errNotOpen
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(journalSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err = tx.Exec(`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)`, version, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// EnsureSchema initializes a fresh journal and rejects one written by a
// different schema version.
func (s *SQLiteStore) EnsureSchema() error {
	state, err := s.CheckState()
	if err != nil {
		return err
	}
	switch state {
	case store.StateReady:
		return nil
	case store.StateUninitialized:
		return s.InitSchema(s.expectedSchema)
	default:
		version, _ := s.GetSchemaVersion()
		return fmt.Errorf("journal %s is at schema %q, want %q", s.dbPath, version, s.expectedSchema)
	}
}

// CheckState returns the current state of the journal.
func (s *SQLiteStore) CheckState() (store.StoreState, error) {
	if s.db == nil {
		return store.StateMissing, errNotOpen
	}

	// Check if schema_migrations table exists
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'`).Scan(&count)
	if err != nil {
		return store.StateUninitialized, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}

	if count == 0 {
		return store.StateUninitialized, nil
	}

	// Check schema version
	version, err := s.GetSchemaVersion()
	if err != nil {
		return store.StateUninitialized, fmt.Errorf("failed to get schema version: %w", err)
	}

	if version != s.expectedSchema {
		return store.StateVersionMismatch, nil
	}

	return store.StateReady, nil
}

// GetSchemaVersion returns the current schema version from the database.
func (s *SQLiteStore) GetSchemaVersion() (string, error) {
	if s.db == nil {
		return "", errNotOpen
	}

	var version string
	err := s.db.QueryRow(`SELECT version FROM schema_migrations ORDER BY applied_at DESC LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query schema version: %w", err)
	}

	return version, nil
}

// RecordRun writes rep and its step results in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, rep *runner.Report, transport, toolVersion string) error {
	if s.db == nil {
		return errNotOpen
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (id, plan, mode, transport, tool_version, started_at, finished_at, succeeded, failed)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.Plan, string(rep.Mode), transport, toolVersion,
		rep.Started.UnixMilli(), rep.Finished.UnixMilli(), rep.Succeeded(), rep.Failed())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, res := range rep.Results {
		var msg string
		if res.Err != nil {
			msg = res.Err.Error()
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO steps (run_id, seq, name, status, error, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
			rep.RunID, res.Seq, res.Name, string(res.Status), msg, res.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to insert step %d: %w", res.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Runs returns up to limit runs, newest first. A limit of zero or less returns all runs.
func (s *SQLiteStore) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	if s.db == nil {
		return nil, errNotOpen
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, plan, mode, transport, tool_version, started_at, finished_at, succeeded, failed
FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []store.Run
	for rows.Next() {
		var (
			r                 store.Run
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.Plan, &r.Mode, &r.Transport, &r.ToolVersion, &started, &finished, &r.Succeeded, &r.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Steps returns the recorded steps of runID in order.
func (s *SQLiteStore) Steps(ctx context.Context, runID string) ([]store.StepRecord, error) {
	if s.db == nil {
		return nil, errNotOpen
	}

	rows, err := s.db.QueryContext(ctx, `SELECT run_id, seq, name, status, error, duration_ms FROM steps WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var out []store.StepRecord
	for rows.Next() {
		var st store.StepRecord
		if err := rows.Scan(&st.RunID, &st.Seq, &st.Name, &st.Status, &st.Error, &st.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
