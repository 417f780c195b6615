// Command schemactl applies schema plans to a Postgres database and reports
// what happened to each step.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/maloquacious/semver"
	"github.com/spf13/cobra"

	"github.com/maloquacious/schemactl/internal/config"
	"github.com/maloquacious/schemactl/internal/logger"
)

var version = semver.Version{Minor: 1, PreRelease: "alpha", Build: semver.Commit()}

var (
	envFile     string
	databaseURL string
	driver      string
	apiURL      string
	journalPath string
	logLevel    string

	cfg config.Config
	log logger.Logger = logger.Nop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "schemactl",
		Short:        "Apply schema plans to a Postgres database",
		SilenceUsage: true,
		Version:      version.String(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(envFile)
			if err != nil {
				return err
			}
			cfg = applyOverrides(cmd, c)
			zl := logger.New(cfg.LogLevel, cmd.ErrOrStderr())
			log = zl
			logger.Default = zl
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if zl, ok := log.(*logger.ZapLogger); ok {
				_ = zl.Sync()
			}
		},
	}

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	pf.StringVar(&databaseURL, "database-url", "", "Postgres connection string (overrides DATABASE_URL)")
	pf.StringVar(&driver, "driver", config.DriverPQ, "database/sql driver: postgres or pgx")
	pf.StringVar(&apiURL, "api-url", "", "REST API base URL (overrides SUPABASE_URL)")
	pf.StringVar(&journalPath, "journal", "", "journal file (overrides SCHEMACTL_JOURNAL)")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(
		newRunCmd(),
		newPlansCmd(),
		newLintCmd(),
		newVerifyCmd(),
		newSeedCmd(),
		newProbeCmd(),
		newKeyCmd(),
		newHistoryCmd(),
		newJournalCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// applyOverrides copies explicitly set global flags over the loaded config.
func applyOverrides(cmd *cobra.Command, c config.Config) config.Config {
	flags := cmd.Flags()
	if flags.Changed("database-url") {
		c.DatabaseURL = databaseURL
	}
	if flags.Changed("driver") {
		c.Driver = driver
	}
	if flags.Changed("api-url") {
		c.APIURL = apiURL
	}
	if flags.Changed("journal") {
		c.JournalPath = journalPath
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	return c
}
