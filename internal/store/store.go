package store

import (
	"fmt"
	"os"
	"time"
)

const (
	DefaultDBFile = "schemactl.db"

	// SchemaVersion is the journal layout this build reads and writes.
	SchemaVersion = "1"
)

// Run is one recorded execution of a plan.
type Run struct {
	ID          string
	Plan        string
	Mode        string
	Transport   string
	ToolVersion string
	StartedAt   time.Time
	FinishedAt  time.Time
	Succeeded   int
	Failed      int
}

// StepRecord is the recorded outcome of one step of a run.
type StepRecord struct {
	RunID      string
	Seq        int
	Name       string
	Status     string
	Error      string
	DurationMS int64
}

// CheckExists verifies if the journal exists at the given path.
// Returns true if the journal exists, false otherwise.
func CheckExists(dbPath string) (bool, error) {
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check journal existence: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("journal path is a directory, expected file: %s", dbPath)
	}
	return true, nil
}
