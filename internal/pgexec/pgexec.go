// Package pgexec runs steps over a direct Postgres connection using database/sql.
//
// Two drivers are registered: lib/pq under "postgres" and pgx under "pgx".
package pgexec

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"github.com/maloquacious/schemactl/internal/config"
	"github.com/maloquacious/schemactl/internal/runner"
)

// Conn adapts a *sql.DB to runner.TxConn.
type Conn struct {
	db *sql.DB
}

// Wrap adapts an already opened database handle.
func Wrap(db *sql.DB) *Conn {
	return &Conn{db: db}
}

// Exec runs one script. Scripts without arguments go over the simple query
// protocol, so a step may contain several statements.
func (c *Conn) Exec(ctx context.Context, query string) error {
	_, err := c.db.ExecContext(ctx, query)
	return err
}

// Begin starts the transaction used by runner.ModeTransaction.
func (c *Conn) Begin(ctx context.Context) (runner.Tx, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Close closes the underlying handle.
func (c *Conn) Close() error {
	return c.db.Close()
}

// DB exposes the underlying handle for read queries such as Columns.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// Tx adapts *sql.Tx to runner.Tx.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Exec(ctx context.Context, query string) error {
	_, err := t.tx.ExecContext(ctx, query)
	return err
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// Open opens and pings a database handle for cfg. The ping is bounded by the
// configured connect timeout.
func Open(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one statement at a time; a single connection keeps session state predictable
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s: %w", config.Redact(cfg.DSN()), err)
	}
	return db, nil
}

// Dialer returns a runner.Dialer that opens a fresh handle on every call.
func Dialer(cfg config.Config) runner.Dialer {
	return func(ctx context.Context) (runner.Conn, error) {
		db, err := Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return Wrap(db), nil
	}
}
