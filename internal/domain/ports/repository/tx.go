package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle. Postgres repositories expect a pgx.Tx
// or nil for the pool.
type Tx interface{}

var NoTX Tx

// TransactionManager runs fn inside a database transaction and hands the
// transaction handle to it. Repositories called with the same tx share the
// transaction; every repository accepts a nil tx for the non-transactional path.
//
// A non-nil error from fn rolls the transaction back.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
