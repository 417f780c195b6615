package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maloquacious/schemactl/internal/logger"
	"github.com/maloquacious/schemactl/internal/pgexec"
	"github.com/maloquacious/schemactl/internal/plan"
	"github.com/maloquacious/schemactl/internal/runner"
)

const testKey = "service-key"

// fakeAPI is an in-memory stand-in for the REST API.
type fakeAPI struct {
	t        *testing.T
	tables   map[string][]map[string]any
	rejected map[string]bool // row names the insert endpoint refuses
	sqls     []string
	sqlErr   map[string]string // SQL -> SQLSTATE returned by exec_sql
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != testKey || r.Header.Get("Authorization") != "Bearer "+testKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"Invalid API key"}`)
		return
	}
	res := strings.TrimPrefix(r.URL.Path, "/rest/v1/")

	if fn, ok := strings.CutPrefix(res, "rpc/"); ok {
		if fn != ExecFunction {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":"PGRST202","message":"Could not find the function"}`)
			return
		}
		var args struct {
			SQL string `json:"sql"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&args))
		f.sqls = append(f.sqls, args.SQL)
		if code, bad := f.sqlErr[args.SQL]; bad {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": "failed"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rows, ok := f.tables[res]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"42P01","message":"relation does not exist"}`)
		return
	}

	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(rows)
	case http.MethodPost:
		require.Equal(f.t, "return=minimal", r.Header.Get("Prefer"))
		require.Equal(f.t, "application/json", r.Header.Get("Content-Type"))
		var row map[string]any
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&row))
		if f.rejected[row["name"].(string)] {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"code":"23505","message":"duplicate key value violates unique constraint"}`)
			return
		}
		f.tables[res] = append(rows, row)
		w.WriteHeader(http.StatusCreated)
	}
}

func newFake(t *testing.T) (*fakeAPI, *Client) {
	f := &fakeAPI{
		t:        t,
		tables:   map[string][]map[string]any{"user_profiles": {{"id": "u1"}}, "material_categories": {}},
		rejected: map[string]bool{},
		sqlErr:   map[string]string{},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, NewClient(srv.URL+"/", testKey, srv.Client())
}

func TestTableExists(t *testing.T) {
	_, c := newFake(t)
	ctx := context.Background()

	ok, err := c.TableExists(ctx, "user_profiles")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.TableExists(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTableExists_BadKey(t *testing.T) {
	_, c := newFake(t)
	c.APIKey = "anon"

	_, err := c.TableExists(context.Background(), "user_profiles")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Equal(t, "api 401: Invalid API key", apiErr.Error())
}

func TestInsertAndSelect(t *testing.T) {
	f, c := newFake(t)
	ctx := context.Background()

	require.NoError(t, c.Insert(ctx, "material_categories", map[string]any{"name": "Tintas", "sort_order": 2}))
	require.Len(t, f.tables["material_categories"], 1)

	rows, err := c.Select(ctx, "material_categories", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Tintas", rows[0]["name"])

	err = c.Insert(ctx, "nope", map[string]any{"name": "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "42P01", apiErr.Code)
}

func TestRPC_UnknownFunction(t *testing.T) {
	_, c := newFake(t)

	err := c.RPC(context.Background(), "does_not_exist", map[string]any{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "PGRST202", apiErr.Code)
	require.Contains(t, apiErr.Error(), "PGRST202")
}

func TestDecodeError_NonJSON(t *testing.T) {
	resp := &http.Response{StatusCode: 502, Body: io.NopCloser(strings.NewReader("bad gateway\n"))}
	apiErr := decodeError(resp)
	require.Equal(t, "bad gateway", apiErr.Message)
	require.Equal(t, 502, apiErr.Status)
}

func TestRunnerOverRPC(t *testing.T) {
	f, c := newFake(t)
	f.sqlErr[`CREATE POLICY "p" ON t USING (true);`] = "42710"
	f.sqlErr["DROP TABLE t;"] = "2BP01"

	p := &plan.Plan{Name: "policies", Steps: []plan.Step{
		{Seq: 1, Name: "0001_policy", SQL: `CREATE POLICY "p" ON t USING (true);`},
		{Seq: 2, Name: "0002_drop", SQL: "DROP TABLE t;"},
		{Seq: 3, Name: "0003_rls", SQL: "ALTER TABLE t ENABLE ROW LEVEL SECURITY;"},
	}}
	r := runner.New(Dialer(c), runner.Options{TolerateExisting: true, IsAlreadyExists: pgexec.IsAlreadyExists}, logger.Nop())

	rep, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, f.sqls, 3)
	require.Equal(t, runner.StatusExists, rep.Results[0].Status)
	require.Equal(t, runner.StatusFailed, rep.Results[1].Status)
	require.Equal(t, runner.StatusOK, rep.Results[2].Status)
	require.Equal(t, 1, rep.Failed())
}

func TestRunnerOverRPC_NoTransactions(t *testing.T) {
	_, c := newFake(t)
	r := runner.New(Dialer(c), runner.Options{Mode: runner.ModeTransaction}, logger.Nop())

	_, err := r.Run(context.Background(), &plan.Plan{Name: "x", Steps: []plan.Step{{Seq: 1, SQL: "SELECT 1"}}})
	require.ErrorIs(t, err, runner.ErrNoTransactions)
}

func TestSeed(t *testing.T) {
	f, c := newFake(t)
	f.rejected["Tintas"] = true

	set, err := plan.BuiltinSeeds()
	require.NoError(t, err)

	results := Seed(context.Background(), c, set, logger.Nop())
	require.Len(t, results, 4)
	require.Equal(t, 1, SeedFailures(results))
	require.Equal(t, "Tintas", results[1].Label)
	require.Error(t, results[1].Err)
	require.Len(t, f.tables["material_categories"], 3)
}

func TestSeed_Cancelled(t *testing.T) {
	f, c := newFake(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	set := plan.SeedSet{Tables: []plan.SeedTable{{Table: "material_categories", Rows: []map[string]any{{"sort_order": 1}}}}}
	results := Seed(ctx, c, set, logger.Nop())
	require.Equal(t, 1, SeedFailures(results))
	require.Equal(t, "row 1", results[0].Label)
	require.Empty(t, f.tables["material_categories"])
}

func TestExport(t *testing.T) {
	set, err := plan.BuiltinSeeds()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Export(set, &buf))

	var out map[string][]map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	rows := out["material_categories"]
	require.Len(t, rows, 4)
	require.Equal(t, "1", rows[0]["id"])
	require.Equal(t, "4", rows[3]["id"])
	require.Equal(t, "Mão de Obra", rows[3]["name"])
}
