// Package database holds the connection contract used by dbupdater, the
// explicit connection configuration, SQL dialects and the registered drivers.
package database

import (
	"context"
	"database/sql"
)

// Conn is the statement-level contract the ledger and engine need. It is
// satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxStarter is implemented by handles that can open their own transactions.
// A Conn without BeginTx is treated as already inside a caller-managed
// transaction.
type TxStarter interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// InTransaction reports whether conn is bound to a caller-managed transaction.
func InTransaction(conn Conn) bool {
	_, ok := conn.(TxStarter)
	return !ok
}
