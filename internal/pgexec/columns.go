package pgexec

import (
	"context"
	"database/sql"
	"fmt"
)

// Column is a row of information_schema.columns.
type Column struct {
	Name       string
	DataType   string
	IsNullable bool
	Default    sql.NullString
}

const columnsQuery = `SELECT column_name, data_type, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

// Columns lists the columns of schema.table in ordinal order.
func Columns(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error) {
	if schema == "" {
		schema = "public"
	}
	rows, err := db.QueryContext(ctx, columnsQuery, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			c        Column
			nullable string
		)
		if err := rows.Scan(&c.Name, &c.DataType, &nullable, &c.Default); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		c.IsNullable = nullable == "YES"
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}

// Missing returns the names in expected that are not among cols, in order.
func Missing(cols []Column, expected []string) []string {
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}
	var out []string
	for _, e := range expected {
		if !have[e] {
			out = append(out, e)
		}
	}
	return out
}
