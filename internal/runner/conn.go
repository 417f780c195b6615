package runner

import "context"

// Conn executes SQL against a target. Implementations need not be safe for
// concurrent use; the runner uses one connection at a time.
type Conn interface {
	Exec(ctx context.Context, sql string) error
	Close() error
}

// Tx is an open transaction on a TxConn.
type Tx interface {
	Exec(ctx context.Context, sql string) error
	Commit() error
	Rollback() error
}

// TxConn is a Conn that can run steps inside a single transaction.
type TxConn interface {
	Conn
	Begin(ctx context.Context) (Tx, error)
}

// Dialer opens a new connection to the target.
type Dialer func(ctx context.Context) (Conn, error)
