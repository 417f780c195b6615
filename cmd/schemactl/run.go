package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/maloquacious/schemactl/internal/config"
	"github.com/maloquacious/schemactl/internal/pgexec"
	"github.com/maloquacious/schemactl/internal/plan"
	"github.com/maloquacious/schemactl/internal/postgrest"
	"github.com/maloquacious/schemactl/internal/report"
	"github.com/maloquacious/schemactl/internal/runner"
)

type runFlags struct {
	dir              string
	mode             string
	onError          string
	pause            time.Duration
	transport        string
	tolerateExisting bool
	dryRun           bool
	noJournal        bool
	verify           bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [plan]",
		Short: "Apply a plan and print a per-step summary",
		Long: `Apply a plan step by step and print a per-step summary.

The plan is one of the built-in plans (see "schemactl plans") or, with --dir,
a directory holding a plan.yaml manifest and numbered .sql scripts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return runPlan(cmd.Context(), cmd.OutOrStdout(), name, f, cmd.Flags().Changed("mode"))
		},
	}
	cmd.Flags().StringVar(&f.dir, "dir", "", "load the plan from a directory instead of the built-in set")
	cmd.Flags().StringVar(&f.mode, "mode", string(runner.ModeSession), "session, per-step or transaction")
	cmd.Flags().StringVar(&f.onError, "on-error", string(runner.PolicyContinue), "continue or stop after a failed step")
	cmd.Flags().DurationVar(&f.pause, "pause", 0, "pause between steps")
	cmd.Flags().StringVar(&f.transport, "transport", config.TransportSQL, "sql (direct connection) or rest (exec_sql function over the API)")
	cmd.Flags().BoolVar(&f.tolerateExisting, "tolerate-existing", false, `count "already exists" errors as success`)
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "list the steps without executing them")
	cmd.Flags().BoolVar(&f.noJournal, "no-journal", false, "do not record the run in the journal")
	cmd.Flags().BoolVar(&f.verify, "verify", true, "check the plan's expected columns after the run")
	return cmd
}

func runPlan(ctx context.Context, w io.Writer, name string, f runFlags, modeSet bool) error {
	p, err := resolvePlan(name, f.dir)
	if err != nil {
		return err
	}
	opts, err := runOptions(p, f, modeSet)
	if err != nil {
		return err
	}

	var dial runner.Dialer
	if !f.dryRun {
		if err := cfg.Validate(f.transport); err != nil {
			return err
		}
		if f.transport == config.TransportREST {
			warnKey()
		}
		dial = dialerFor(f.transport)
	}

	rep, err := runner.New(dial, opts, log).Run(ctx, p)
	report.Summary(w, rep)
	if !f.dryRun && !f.noJournal {
		recordRun(ctx, rep, f.transport)
	}
	if err != nil {
		return err
	}
	if !rep.OK() {
		return fmt.Errorf("%d of %d steps failed", rep.Failed(), len(rep.Results))
	}

	if f.verify && !f.dryRun && p.Verify != nil {
		if f.transport != config.TransportSQL {
			log.Warn("column verification needs the sql transport; skipped")
			return nil
		}
		return verifyColumns(ctx, w, p.Verify.Table, p.Verify.Columns)
	}
	return nil
}

// resolvePlan loads the plan from dir when given, otherwise the built-in
// plan called name (or the default plan).
func resolvePlan(name, dir string) (*plan.Plan, error) {
	if dir != "" {
		if name != "" {
			return nil, errors.New("give either a plan name or --dir, not both")
		}
		return plan.LoadDir(dir)
	}
	if name == "" {
		name = plan.DefaultPlan
	}
	return plan.Builtin(name)
}

// runOptions builds runner options. An explicit --mode wins over the plan's
// own default mode.
func runOptions(p *plan.Plan, f runFlags, modeSet bool) (runner.Options, error) {
	modeName := f.mode
	if !modeSet && p.DefaultMode != "" {
		modeName = p.DefaultMode
	}
	mode, err := runner.ParseMode(modeName)
	if err != nil {
		return runner.Options{}, err
	}
	policy, err := runner.ParsePolicy(f.onError)
	if err != nil {
		return runner.Options{}, err
	}
	if f.tolerateExisting && mode == runner.ModeTransaction {
		log.Warn("--tolerate-existing has no effect in transaction mode")
	}
	return runner.Options{
		Mode:             mode,
		Policy:           policy,
		Pause:            f.pause,
		TolerateExisting: f.tolerateExisting,
		IsAlreadyExists:  pgexec.IsAlreadyExists,
		DryRun:           f.dryRun,
	}, nil
}

func dialerFor(transport string) runner.Dialer {
	if transport == config.TransportREST {
		return postgrest.Dialer(newRESTClient())
	}
	return pgexec.Dialer(cfg)
}

func newRESTClient() *postgrest.Client {
	return postgrest.NewClient(cfg.APIURL, cfg.ServiceRoleKey, &http.Client{Timeout: cfg.Timeout() * 3})
}
