package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/maloquacious/schemactl/internal/config"
	"github.com/maloquacious/schemactl/internal/keyinfo"
	"github.com/maloquacious/schemactl/internal/plan"
	"github.com/maloquacious/schemactl/internal/postgrest"
	"github.com/maloquacious/schemactl/internal/report"
)

func newSeedCmd() *cobra.Command {
	var (
		file   string
		export string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert seed rows through the REST API",
		Long: `Insert seed rows through the REST API.

When the API cannot be reached and --export is set, the rows are written to
a JSON file instead so they can be imported by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := loadSeeds(file)
			if err != nil {
				return err
			}
			if len(set.Tables) == 0 {
				return fmt.Errorf("no seed tables defined")
			}

			probeErr := cfg.Validate(config.TransportREST)
			var client *postgrest.Client
			if probeErr == nil {
				warnKey()
				client = newRESTClient()
				probeErr = probeTable(cmd, client, set.Tables[0].Table)
			}
			if probeErr != nil {
				if export == "" {
					return probeErr
				}
				log.Warn("api unavailable (%v); exporting %d rows to %s", probeErr, set.Count(), export)
				return exportSeeds(set, export)
			}

			results := postgrest.Seed(cmd.Context(), client, set, log)
			report.Seeds(cmd.OutOrStdout(), results)
			if n := postgrest.SeedFailures(results); n > 0 {
				return fmt.Errorf("%d of %d rows failed", n, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "seed file (YAML); defaults to the built-in catalog")
	cmd.Flags().StringVar(&export, "export", "", "write rows to this JSON file when the API is unreachable")
	return cmd
}

func loadSeeds(file string) (plan.SeedSet, error) {
	if file == "" {
		return plan.BuiltinSeeds()
	}
	return plan.LoadSeedFile(file)
}

func exportSeeds(set plan.SeedSet, path string) error {
	fp, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	if err := postgrest.Export(set, fp); err != nil {
		fp.Close()
		return err
	}
	if err := fp.Close(); err != nil {
		return fmt.Errorf("close export: %w", err)
	}
	log.Info("wrote %d rows to %s", set.Count(), path)
	return nil
}

func newProbeCmd() *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that the REST API is reachable and a table is exposed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(config.TransportREST); err != nil {
				return err
			}
			warnKey()
			if err := probeTable(cmd, newRESTClient(), table); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: table %s reachable\n", cfg.APIURL, table)
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "user_profiles", "table to probe")
	return cmd
}

func probeTable(cmd *cobra.Command, client *postgrest.Client, table string) error {
	ok, err := client.TableExists(cmd.Context(), table)
	if err != nil {
		return fmt.Errorf("probe %s: %w", table, err)
	}
	if !ok {
		return fmt.Errorf("probe %s: table not found", table)
	}
	return nil
}

// warnKey logs problems with the configured key before it is used.
func warnKey() {
	claims, err := keyinfo.Inspect(cfg.ServiceRoleKey)
	if err != nil {
		log.Warn("%v", err)
		return
	}
	for _, msg := range keyinfo.Check(claims, cfg.APIURL, time.Now()) {
		log.Warn("api key: %s", msg)
	}
}

func newKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key",
		Short: "Show the claims of the configured service-role key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.ServiceRoleKey == "" {
				return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is not set")
			}
			claims, err := keyinfo.Inspect(cfg.ServiceRoleKey)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "role:    %s\n", claims.Role)
			fmt.Fprintf(w, "project: %s\n", claims.Ref)
			if claims.IssuedAt != nil {
				fmt.Fprintf(w, "issued:  %s\n", claims.IssuedAt.Format(time.RFC3339))
			}
			if claims.ExpiresAt != nil {
				fmt.Fprintf(w, "expires: %s\n", claims.ExpiresAt.Format(time.RFC3339))
			}
			warnings := keyinfo.Check(claims, cfg.APIURL, time.Now())
			for _, msg := range warnings {
				fmt.Fprintf(w, "warning: %s\n", msg)
			}
			if len(warnings) > 0 {
				return fmt.Errorf("key has %d warnings", len(warnings))
			}
			return nil
		},
	}
}
