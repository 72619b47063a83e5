package database

import (
	"context"

	"github.com/uptrace/bun"
)

type txKey struct{}

// WithTx runs fn inside a writer transaction carried by the context. Nested
// calls join the outer transaction.
func (c *Connections) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	return c.Writer.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// TxFromContext returns the transaction started by WithTx, if any.
func TxFromContext(ctx context.Context) *bun.Tx {
	tx, _ := ctx.Value(txKey{}).(bun.Tx)
	if tx.Tx == nil {
		return nil
	}
	return &tx
}

// WriterDB returns the open transaction or the writer pool.
func (c *Connections) WriterDB(ctx context.Context) bun.IDB {
	if tx := TxFromContext(ctx); tx != nil {
		return *tx
	}
	return c.Writer
}

// ReaderDB reads inside an open transaction so callers see their own writes,
// and from the replica otherwise.
func (c *Connections) ReaderDB(ctx context.Context) bun.IDB {
	if tx := TxFromContext(ctx); tx != nil {
		return *tx
	}
	return c.Reader
}
