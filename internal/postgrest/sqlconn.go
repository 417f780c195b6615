package postgrest

import (
	"context"

	"github.com/maloquacious/schemactl/internal/runner"
)

// ExecFunction is the database function that runs arbitrary SQL. It must be
// installed on the target and restricted to the service role.
const ExecFunction = "exec_sql"

// SQLConn runs scripts through the exec_sql RPC. It is a runner.Conn but not
// a runner.TxConn: every call commits on its own.
type SQLConn struct {
	client *Client
}

// NewSQLConn wraps client.
func NewSQLConn(client *Client) *SQLConn {
	return &SQLConn{client: client}
}

func (c *SQLConn) Exec(ctx context.Context, sql string) error {
	return c.client.RPC(ctx, ExecFunction, map[string]string{"sql": sql})
}

// Close is a no-op; HTTP connections are pooled by the client.
func (c *SQLConn) Close() error { return nil }

// Dialer returns a runner.Dialer over client.
func Dialer(client *Client) runner.Dialer {
	return func(context.Context) (runner.Conn, error) {
		return NewSQLConn(client), nil
	}
}
