package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/maloquacious/schemactl/internal/config"
	"github.com/maloquacious/schemactl/internal/plan"
	"github.com/maloquacious/schemactl/internal/runner"
	"github.com/maloquacious/schemactl/internal/store"
	"github.com/maloquacious/schemactl/internal/store/sqlite"
)

// execute runs the root command with args against an isolated environment.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := executeEnv(t, nil, args...)
	return out, err
}

// executeEnv is execute with extra environment variables. It returns stdout
// and the log output separately.
func executeEnv(t *testing.T, env map[string]string, args ...string) (string, string, error) {
	t.Helper()
	dir := t.TempDir()
	for _, k := range []string{"DATABASE_URL", "PGHOST", "SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY", "SCHEMACTL_JOURNAL", "SCHEMACTL_LOG_LEVEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("SCHEMACTL_JOURNAL", filepath.Join(dir, "journal.db"))
	for k, v := range env {
		t.Setenv(k, v)
	}

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(dir, "missing.env"), "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// signedKey returns an HS256 token carrying role.
func signedKey(t *testing.T, role string) string {
	t.Helper()
	claims := jwt.MapClaims{"role": role, "iss": "supabase", "exp": time.Now().Add(time.Hour).Unix()}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

// fakeAPI answers every table read with an empty result set.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestApplyOverrides(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--driver", "pgx", "--journal", "/tmp/j.db"}))

	got := applyOverrides(cmd, config.Config{Driver: config.DriverPQ, DatabaseURL: "postgres://env", JournalPath: "schemactl.db", LogLevel: "info"})
	require.Equal(t, config.DriverPGX, got.Driver)
	require.Equal(t, "/tmp/j.db", got.JournalPath)
	require.Equal(t, "postgres://env", got.DatabaseURL, "unset flags keep the environment value")
	require.Equal(t, "info", got.LogLevel)
}

func TestResolvePlan(t *testing.T) {
	p, err := resolvePlan("", "")
	require.NoError(t, err)
	require.Equal(t, plan.DefaultPlan, p.Name)

	_, err = resolvePlan("schema", t.TempDir())
	require.Error(t, err)

	_, err = resolvePlan("nope", "")
	require.Error(t, err)
}

func TestRunOptions(t *testing.T) {
	p := &plan.Plan{Name: "p", DefaultMode: string(runner.ModeTransaction)}

	opts, err := runOptions(p, runFlags{mode: "session", onError: "stop"}, false)
	require.NoError(t, err)
	require.Equal(t, runner.ModeTransaction, opts.Mode, "plan default applies when --mode is not given")
	require.Equal(t, runner.PolicyStop, opts.Policy)
	require.NotNil(t, opts.IsAlreadyExists)

	opts, err = runOptions(p, runFlags{mode: "per-step"}, true)
	require.NoError(t, err)
	require.Equal(t, runner.ModePerStep, opts.Mode)

	_, err = runOptions(p, runFlags{mode: "bulk"}, true)
	require.Error(t, err)
	_, err = runOptions(p, runFlags{onError: "retry"}, false)
	require.Error(t, err)
}

func TestRunDryRun(t *testing.T) {
	out, err := execute(t, "run", "user-profiles", "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, "plan user-profiles (transaction)")
	require.Contains(t, out, "dry run: 6 steps planned")
}

func TestRunRequiresConnection(t *testing.T) {
	_, err := execute(t, "run", "schema")
	require.ErrorContains(t, err, "database connection required")

	_, err = execute(t, "run", "schema", "--transport", "rest")
	require.ErrorContains(t, err, "SUPABASE_URL")
}

func TestPlansCommands(t *testing.T) {
	out, err := execute(t, "plans")
	require.NoError(t, err)
	require.Contains(t, out, "schema")
	require.Contains(t, out, "rls-policies")

	out, err = execute(t, "plans", "show", "user-profiles")
	require.NoError(t, err)
	require.Contains(t, out, "ADD COLUMN IF NOT EXISTS")
}

func TestLintCommand(t *testing.T) {
	_, err := execute(t, "lint", "schema")
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_create.sql"), []byte("CREATE TABLE things (id int);\n"), 0o644))
	out, err := execute(t, "lint", "--dir", dir)
	require.Error(t, err)
	require.Contains(t, out, "create-if-not-exists")
}

func TestSeedExportFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.json")
	_, err := execute(t, "seed", "--export", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "material_categories")

	_, err = execute(t, "seed")
	require.Error(t, err)
}

func TestJournalCommands(t *testing.T) {
	out, err := execute(t, "journal", "verify")
	require.Error(t, err)
	require.Contains(t, out, "missing")

	out, err = execute(t, "history")
	require.NoError(t, err)
	require.Equal(t, "no runs recorded\n", out)

	out, err = execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "schemactl "+version.String())
	require.Contains(t, out, "journal schema 1")
}

func TestKeyRequiresKey(t *testing.T) {
	_, err := execute(t, "key")
	require.ErrorContains(t, err, "SUPABASE_SERVICE_ROLE_KEY")
}

func TestKeyWarningsBeforeRESTUse(t *testing.T) {
	srv := fakeAPI(t)
	tests := []struct {
		name string
		role string
		warn bool
	}{
		{"anon key", "anon", true},
		{"service role key", "service_role", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := map[string]string{"SUPABASE_URL": srv.URL, "SUPABASE_SERVICE_ROLE_KEY": signedKey(t, tt.role)}
			out, logs, err := executeEnv(t, env, "--log-level", "warn", "probe", "--table", "materials")
			require.NoError(t, err)
			require.Contains(t, out, "table materials reachable")
			if tt.warn {
				require.Contains(t, logs, `key role is "anon", not "service_role"`)
			} else {
				require.NotContains(t, logs, "api key:")
			}
		})
	}

	t.Run("rest run", func(t *testing.T) {
		env := map[string]string{"SUPABASE_URL": srv.URL, "SUPABASE_SERVICE_ROLE_KEY": signedKey(t, "anon")}
		_, logs, _ := executeEnv(t, env, "--log-level", "warn", "run", "user-profiles", "--transport", "rest", "--mode", "session", "--no-journal")
		require.Contains(t, logs, `key role is "anon"`)
	})
}

func TestHistoryRunSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s := sqlite.New(path, store.SchemaVersion)
	require.NoError(t, s.Open())
	require.NoError(t, s.EnsureSchema())
	started := time.Now().Add(-time.Minute)
	rep := &runner.Report{
		RunID:    "5f0c6a3e-1111-4e0b-9a51-2f6c1b8d9e01",
		Plan:     "user-profiles",
		Mode:     runner.ModeTransaction,
		Policy:   runner.PolicyStop,
		Started:  started,
		Finished: started.Add(time.Second),
		Results: []runner.StepResult{
			{Seq: 1, Name: "0001_add_user_type", Status: runner.StatusRolledBack},
			{Seq: 2, Name: "0002_add_company_name", Status: runner.StatusFailed, Err: errors.New("permission denied for table user_profiles")},
		},
	}
	require.NoError(t, s.RecordRun(context.Background(), rep, "sql", "test"))
	require.NoError(t, s.Close())

	env := map[string]string{"SCHEMACTL_JOURNAL": path}
	out, _, err := executeEnv(t, env, "history", "--run", "5f0c6a3e")
	require.NoError(t, err)
	require.Contains(t, out, "0002_add_company_name")
	require.Contains(t, out, "permission denied")

	_, _, err = executeEnv(t, env, "history", "--run", "ffff")
	require.ErrorContains(t, err, "no run matches")
}
