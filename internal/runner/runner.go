// Package runner executes a plan's steps in order against a single target.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maloquacious/schemactl/internal/logger"
	"github.com/maloquacious/schemactl/internal/plan"
)

// Mode controls how connections and transactions are used during a run.
type Mode string

const (
	// ModeSession opens one connection and runs every step on it in autocommit.
	ModeSession Mode = "session"
	// ModePerStep opens and closes a connection around every step.
	ModePerStep Mode = "per-step"
	// ModeTransaction runs every step in one transaction and commits at the end.
	ModeTransaction Mode = "transaction"
)

// Policy controls what happens after a step fails.
type Policy string

const (
	PolicyContinue Policy = "continue"
	PolicyStop     Policy = "stop"
)

// ParseMode validates a mode name. An empty name selects ModeSession.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeSession, nil
	case ModeSession, ModePerStep, ModeTransaction:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q (want session, per-step or transaction)", s)
}

// ParsePolicy validates a policy name. An empty name selects PolicyContinue.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyContinue, nil
	case PolicyContinue, PolicyStop:
		return p, nil
	}
	return "", fmt.Errorf("unknown error policy %q (want continue or stop)", s)
}

// ErrNoTransactions is returned when ModeTransaction is used with a
// connection that cannot begin transactions.
var ErrNoTransactions = errors.New("target does not support transactions")

// Options configure a Runner.
type Options struct {
	Mode   Mode
	Policy Policy
	// Pause is slept between consecutive steps.
	Pause time.Duration
	// TolerateExisting counts "already exists" failures as successes.
	// It has no effect in ModeTransaction, where any error aborts the transaction.
	TolerateExisting bool
	// IsAlreadyExists classifies errors for TolerateExisting.
	IsAlreadyExists func(error) bool
	DryRun          bool
}

// Runner executes plans.
type Runner struct {
	dial  Dialer
	opts  Options
	log   logger.Logger
	now   func() time.Time
	newID func() string
}

// New returns a Runner that reaches the target through dial.
func New(dial Dialer, opts Options, log logger.Logger) *Runner {
	if opts.Mode == "" {
		opts.Mode = ModeSession
	}
	if opts.Policy == "" {
		opts.Policy = PolicyContinue
	}
	if log == nil {
		log = logger.Default
	}
	return &Runner{
		dial:  dial,
		opts:  opts,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Run executes every step of p. The report is always returned; the error is
// non-nil only when the run could not proceed at all (connection, begin or
// cancellation). Step failures are recorded in the report, not returned.
func (r *Runner) Run(ctx context.Context, p *plan.Plan) (*Report, error) {
	rep := &Report{
		RunID:   r.newID(),
		Plan:    p.Name,
		Mode:    r.opts.Mode,
		Policy:  r.opts.Policy,
		DryRun:  r.opts.DryRun,
		Started: r.now(),
	}
	for _, st := range p.Steps {
		rep.Results = append(rep.Results, StepResult{
			Seq:         st.Seq,
			Name:        st.Name,
			Description: st.Description,
			Status:      StatusSkipped,
		})
	}
	defer func() { rep.Finished = r.now() }()

	r.log.Info("running plan %s: %d steps, mode=%s, on-error=%s", p.Name, len(p.Steps), r.opts.Mode, r.opts.Policy)

	if r.opts.DryRun {
		for i := range rep.Results {
			rep.Results[i].Status = StatusPlanned
		}
		return rep, nil
	}

	var err error
	switch r.opts.Mode {
	case ModeSession:
		err = r.runSession(ctx, p, rep)
	case ModePerStep:
		err = r.runPerStep(ctx, p, rep)
	case ModeTransaction:
		err = r.runTransaction(ctx, p, rep)
	default:
		err = fmt.Errorf("unknown mode %q", r.opts.Mode)
	}
	return rep, err
}

func (r *Runner) runSession(ctx context.Context, p *plan.Plan, rep *Report) error {
	conn, err := r.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer r.close(conn)

	for i, st := range p.Steps {
		if err := r.between(ctx, i); err != nil {
			return err
		}
		if !r.execStep(ctx, conn.Exec, i, len(p.Steps), st, &rep.Results[i]) && r.opts.Policy == PolicyStop {
			return nil
		}
	}
	return nil
}

func (r *Runner) runPerStep(ctx context.Context, p *plan.Plan, rep *Report) error {
	for i, st := range p.Steps {
		if err := r.between(ctx, i); err != nil {
			return err
		}

		res := &rep.Results[i]
		conn, err := r.dial(ctx)
		if err != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("connect: %w", err)
			r.log.Error("[%d/%d] %s: %v", i+1, len(p.Steps), st.Description, res.Err)
			if r.opts.Policy == PolicyStop {
				return nil
			}
			continue
		}
		ok := r.execStep(ctx, conn.Exec, i, len(p.Steps), st, res)
		r.close(conn)
		if !ok && r.opts.Policy == PolicyStop {
			return nil
		}
	}
	return nil
}

func (r *Runner) runTransaction(ctx context.Context, p *plan.Plan, rep *Report) error {
	conn, err := r.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer r.close(conn)

	txc, ok := conn.(TxConn)
	if !ok {
		return ErrNoTransactions
	}
	tx, err := txc.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	rollback := func(upTo int) {
		if err := tx.Rollback(); err != nil {
			r.log.Error("rollback: %v", err)
		}
		for j := 0; j < upTo; j++ {
			rep.Results[j].Status = StatusRolledBack
		}
		r.log.Warn("transaction rolled back, no changes were applied")
	}

	// any error aborts a Postgres transaction, so existing objects cannot be tolerated here
	strict := *r
	strict.opts.TolerateExisting = false

	for i, st := range p.Steps {
		if err := strict.between(ctx, i); err != nil {
			rollback(i)
			return err
		}
		if !strict.execStep(ctx, tx.Exec, i, len(p.Steps), st, &rep.Results[i]) {
			rollback(i)
			return nil
		}
	}

	if err := tx.Commit(); err != nil {
		// a failed commit has already discarded the transaction
		for j := range rep.Results {
			rep.Results[j].Status = StatusRolledBack
		}
		if last := len(rep.Results) - 1; last >= 0 {
			rep.Results[last].Status = StatusFailed
			rep.Results[last].Err = fmt.Errorf("commit: %w", err)
		}
		r.log.Error("commit failed, no changes were applied: %v", err)
		return nil
	}
	r.log.Info("transaction committed")
	return nil
}

// between checks for cancellation before step i and pauses between steps.
func (r *Runner) between(ctx context.Context, i int) error {
	if i > 0 && r.opts.Pause > 0 {
		t := time.NewTimer(r.opts.Pause)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		r.log.Warn("run cancelled before step %d: %v", i+1, err)
		return fmt.Errorf("cancelled: %w", err)
	}
	return nil
}

func (r *Runner) execStep(ctx context.Context, exec func(context.Context, string) error, i, n int, st plan.Step, res *StepResult) bool {
	r.log.Info("[%d/%d] %s", i+1, n, st.Description)

	start := r.now()
	err := exec(ctx, st.SQL)
	res.Duration = r.now().Sub(start)

	switch {
	case err == nil:
		res.Status = StatusOK
		r.log.Debug("[%d/%d] ok in %s", i+1, n, res.Duration)
		return true
	case r.opts.TolerateExisting && r.opts.IsAlreadyExists != nil && r.opts.IsAlreadyExists(err):
		res.Status = StatusExists
		r.log.Warn("[%d/%d] already exists, continuing: %v", i+1, n, err)
		return true
	default:
		res.Status = StatusFailed
		res.Err = err
		r.log.Error("[%d/%d] %s failed: %v", i+1, n, st.Name, err)
		return false
	}
}

func (r *Runner) close(c Conn) {
	if err := c.Close(); err != nil {
		r.log.Warn("close connection: %v", err)
	}
}
