// Package pool defines an interface over pgxpool.Pool so that callers can be
// given wrapped or mocked implementations.
package pool

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Pool is the subset of pgxpool.Pool methods the applications use.
type Pool interface {
	// Close closes all connections in the pool.
	Close()

	// Exec executes the given SQL.
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)

	// Query executes sql with args and returns the resulting rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)

	// QueryRow executes sql with args, expecting at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row

	// Begin starts a transaction.
	Begin(ctx context.Context) (pgx.Tx, error)

	// BeginTx starts a transaction with the given options.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)

	// Ping verifies the database connection is alive.
	Ping(ctx context.Context) error
}

// Assert that *pgxpool.Pool satisfies Pool.
var _ Pool = (*pgxpool.Pool)(nil)
