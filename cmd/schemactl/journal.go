package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/maloquacious/schemactl/internal/report"
	"github.com/maloquacious/schemactl/internal/runner"
	"github.com/maloquacious/schemactl/internal/store"
	"github.com/maloquacious/schemactl/internal/store/sqlite"
)

// openJournal opens the journal, creating and initializing it if needed.
func openJournal() (*sqlite.SQLiteStore, error) {
	s := sqlite.New(cfg.JournalPath, store.SchemaVersion)
	if err := s.Open(); err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// recordRun writes rep to the journal. Journal problems never fail a run.
func recordRun(ctx context.Context, rep *runner.Report, transport string) {
	s, err := openJournal()
	if err != nil {
		log.Warn("journal: %v", err)
		return
	}
	defer s.Close()
	if err := s.RecordRun(ctx, rep, transport, version.String()); err != nil {
		log.Warn("journal: %v", err)
		return
	}
	log.Debug("recorded run %s in %s", rep.RunID, cfg.JournalPath)
}

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		runID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exists, err := store.CheckExists(cfg.JournalPath)
			if err != nil {
				return err
			}
			if !exists {
				report.History(cmd.OutOrStdout(), nil, time.Now())
				return nil
			}
			s, err := openJournal()
			if err != nil {
				return err
			}
			defer s.Close()
			if runID != "" {
				return showRun(cmd, s, runID)
			}
			runs, err := s.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			report.History(cmd.OutOrStdout(), runs, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show (0 for all)")
	cmd.Flags().StringVar(&runID, "run", "", "show the steps of one run (full id or unique prefix)")
	return cmd
}

// showRun prints the steps of the run whose id starts with prefix.
func showRun(cmd *cobra.Command, s store.Store, prefix string) error {
	runs, err := s.Runs(cmd.Context(), 0)
	if err != nil {
		return err
	}
	var matches []store.Run
	for _, r := range runs {
		if strings.HasPrefix(r.ID, prefix) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return fmt.Errorf("no run matches %q", prefix)
	case 1:
	default:
		return fmt.Errorf("run id %q is ambiguous (%d matches)", prefix, len(matches))
	}

	steps, err := s.Steps(cmd.Context(), matches[0].ID)
	if err != nil {
		return err
	}
	report.RunSteps(cmd.OutOrStdout(), matches[0], steps)
	return nil
}

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Journal management commands",
	}
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the journal's schema and version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := journalState()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cfg.JournalPath, state)
			if err != nil {
				return err
			}
			if state != store.StateReady {
				return fmt.Errorf("journal is %s", state)
			}
			return nil
		},
	}
	cmd.AddCommand(verifyCmd)
	return cmd
}

// journalState reports the journal state without creating or changing it.
func journalState() (store.StoreState, error) {
	exists, err := store.CheckExists(cfg.JournalPath)
	if err != nil {
		return store.StateMissing, err
	}
	if !exists {
		return store.StateMissing, nil
	}
	s := sqlite.New(cfg.JournalPath, store.SchemaVersion)
	if err := s.Open(); err != nil {
		return store.StateMissing, err
	}
	defer s.Close()
	return s.CheckState()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tool and journal schema versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "schemactl %s\n", version.String())
			fmt.Fprintf(w, "journal schema %s\n", store.SchemaVersion)
			state, err := journalState()
			if err != nil {
				log.Debug("journal state: %v", err)
			}
			fmt.Fprintf(w, "journal %s: %s\n", cfg.JournalPath, state)
			return nil
		},
	}
}
