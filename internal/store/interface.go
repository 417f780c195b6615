package store

import (
	"context"

	"github.com/maloquacious/schemactl/internal/runner"
)

// StoreState represents the initialization state of the journal.
type StoreState int

const (
	StateMissing         StoreState = iota // File doesn't exist
	StateUninitialized                     // File exists but no schema
	StateVersionMismatch                   // Schema exists but wrong version
	StateReady                             // Initialized and correct version
)

func (s StoreState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateUninitialized:
		return "uninitialized"
	case StateVersionMismatch:
		return "version mismatch"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Store defines the run journal contract.
// Implementations must be safe for concurrent use.
type Store interface {
	// Open opens the journal connection
	Open() error

	// Close closes the journal connection
	Close() error

	// InitSchema creates the journal tables and stamps the schema version
	InitSchema(version string) error

	// CheckState returns the current state of the journal
	CheckState() (StoreState, error)

	// GetSchemaVersion returns the current schema version from the journal
	GetSchemaVersion() (string, error)

	// RecordRun stores a finished run and its step results
	RecordRun(ctx context.Context, rep *runner.Report, transport, toolVersion string) error

	// Runs returns the most recent runs, newest first
	Runs(ctx context.Context, limit int) ([]Run, error)

	// Steps returns the step results of one run in order
	Steps(ctx context.Context, runID string) ([]StepRecord, error)
}
