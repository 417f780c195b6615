package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maloquacious/schemactl/internal/plan"
	"github.com/maloquacious/schemactl/internal/report"
)

func newPlansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List the built-in plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := plan.Names()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, name := range names {
				p, err := plan.Builtin(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%-14s %2d steps  %s\n", p.Name, len(p.Steps), p.Description)
			}
			return nil
		},
	}

	var dir string
	showCmd := &cobra.Command{
		Use:   "show [plan]",
		Short: "Print the steps of a plan and their SQL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			p, err := resolvePlan(name, dir)
			if err != nil {
				return err
			}
			report.Steps(cmd.OutOrStdout(), p, true)
			return nil
		},
	}
	showCmd.Flags().StringVar(&dir, "dir", "", "load the plan from a directory")

	cmd.AddCommand(showCmd)
	return cmd
}

func newLintCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "lint [plan]",
		Short: "Check that a plan's statements are safe to re-run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			p, err := resolvePlan(name, dir)
			if err != nil {
				return err
			}
			findings := plan.Lint(p)
			report.Findings(cmd.OutOrStdout(), p.Name, findings)
			if len(findings) > 0 {
				return fmt.Errorf("plan %s: %d findings", p.Name, len(findings))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "load the plan from a directory")
	return cmd
}
