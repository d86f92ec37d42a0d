// Package storage provides common storage interfaces shared by the
// postgres-backed and in-memory implementations of the parameter store.
package storage

import (
	"context"
	"database/sql"
)

// Querier abstracts database query execution so BaseStore can run against
// either a *sql.DB or a *sql.Tx transparently.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DBProvider provides access to the underlying database connection.
type DBProvider interface {
	DB() *sql.DB
	Querier(ctx context.Context) Querier
}

// TxStore provides transaction support for stores.
type TxStore interface {
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
