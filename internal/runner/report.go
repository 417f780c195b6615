package runner

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Status is the outcome of a single step.
type Status string

const (
	StatusOK         Status = "ok"
	StatusExists     Status = "exists"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusRolledBack Status = "rolled-back"
	StatusPlanned    Status = "planned"
)

// StepResult records what happened to one step.
type StepResult struct {
	Seq         int
	Name        string
	Description string
	Status      Status
	Err         error
	Duration    time.Duration
}

// Succeeded reports whether the step counts towards the success tally.
func (r StepResult) Succeeded() bool {
	return r.Status == StatusOK || r.Status == StatusExists
}

// Report is the summary of one run.
type Report struct {
	RunID    string
	Plan     string
	Mode     Mode
	Policy   Policy
	DryRun   bool
	Started  time.Time
	Finished time.Time
	Results  []StepResult
}

// Succeeded returns the number of steps that succeeded.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Succeeded() {
			n++
		}
	}
	return n
}

// Failed returns the number of steps that did not succeed, counting steps
// that were skipped or rolled back because of an earlier failure.
func (r *Report) Failed() int {
	if r.DryRun {
		return 0
	}
	return len(r.Results) - r.Succeeded()
}

// OK reports whether every step succeeded.
func (r *Report) OK() bool {
	return r.Failed() == 0
}

// Err combines the errors of all failed steps, or returns nil.
func (r *Report) Err() error {
	var err error
	for _, res := range r.Results {
		if res.Err != nil {
			err = multierr.Append(err, fmt.Errorf("step %04d %s: %w", res.Seq, res.Name, res.Err))
		}
	}
	return err
}
