package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maloquacious/schemactl/internal/config"
	"github.com/maloquacious/schemactl/internal/pgexec"
	"github.com/maloquacious/schemactl/internal/report"
)

func newVerifyCmd() *cobra.Command {
	var (
		table  string
		schema string
		expect []string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "List a table's columns and check that expected ones exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(config.TransportSQL); err != nil {
				return err
			}
			if schema != "" && schema != "public" {
				table = schema + "." + table
			}
			return verifyColumns(cmd.Context(), cmd.OutOrStdout(), table, expect)
		},
	}
	cmd.Flags().StringVar(&table, "table", "user_profiles", "table to inspect")
	cmd.Flags().StringVar(&schema, "schema", "public", "schema of the table")
	cmd.Flags().StringSliceVar(&expect, "expect", nil, "comma-separated columns that must exist")
	return cmd
}

// verifyColumns prints the columns of table ("schema.table" or "table") and
// fails when any expected column is missing.
func verifyColumns(ctx context.Context, w io.Writer, table string, expected []string) error {
	schema, name := "public", table
	if s, t, ok := strings.Cut(table, "."); ok {
		schema, name = s, t
	}

	db, err := pgexec.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cols, err := pgexec.Columns(ctx, db, schema, name)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("table %s.%s not found", schema, name)
	}
	missing := pgexec.Missing(cols, expected)
	report.Columns(w, table, cols, missing)
	if len(missing) > 0 {
		return fmt.Errorf("%s is missing %d expected columns", table, len(missing))
	}
	log.Info("%s has all %d expected columns", table, len(expected))
	return nil
}
