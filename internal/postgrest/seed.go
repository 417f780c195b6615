package postgrest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/maloquacious/schemactl/internal/logger"
	"github.com/maloquacious/schemactl/internal/plan"
)

// SeedResult is the outcome of inserting one row.
type SeedResult struct {
	Table string
	Label string
	Err   error
}

// Seed inserts every row of set, one request per row, and reports each.
// It keeps going after failures.
func Seed(ctx context.Context, c *Client, set plan.SeedSet, log logger.Logger) []SeedResult {
	var out []SeedResult
	for _, t := range set.Tables {
		for i, row := range t.Rows {
			res := SeedResult{Table: t.Table, Label: rowLabel(row, i)}
			if err := ctx.Err(); err != nil {
				res.Err = err
			} else {
				res.Err = c.Insert(ctx, t.Table, row)
			}
			if res.Err != nil {
				log.Error("%s: %q not inserted: %v", t.Table, res.Label, res.Err)
			} else {
				log.Info("%s: %q inserted", t.Table, res.Label)
			}
			out = append(out, res)
		}
	}
	return out
}

// SeedFailures counts results with an error.
func SeedFailures(results []SeedResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Export writes set as indented JSON keyed by table name, assigning
// sequential string ids so the output can stand in for the real tables.
func Export(set plan.SeedSet, w io.Writer) error {
	out := make(map[string][]map[string]any, len(set.Tables))
	for _, t := range set.Tables {
		for _, row := range t.Rows {
			cp := make(map[string]any, len(row)+1)
			for k, v := range row {
				cp[k] = v
			}
			if _, ok := cp["id"]; !ok {
				cp["id"] = fmt.Sprint(len(out[t.Table]) + 1)
			}
			out[t.Table] = append(out[t.Table], cp)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func rowLabel(row map[string]any, i int) string {
	for _, k := range []string{"name", "title", "id"} {
		if v, ok := row[k]; ok {
			return fmt.Sprint(v)
		}
	}
	return fmt.Sprintf("row %d", i+1)
}
