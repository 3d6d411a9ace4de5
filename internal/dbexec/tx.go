package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TxBeginner starts transactions. StandardExecutor and *sql.DB implement it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// TxExecutor runs statements inside one transaction.
type TxExecutor struct {
	tx *sql.Tx
}

// NewTxExecutor wraps an open transaction.
func NewTxExecutor(tx *sql.Tx) *TxExecutor {
	return &TxExecutor{tx: tx}
}

func (e *TxExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	return e.tx.QueryContext(ctx, query, args...)
}

func (e *TxExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return e.tx.ExecContext(ctx, query, args...)
}

// ErrNoTransactions is returned when the executor cannot start transactions.
var ErrNoTransactions = errors.New("executor does not support transactions")

// RunInTx runs fn inside a transaction when exec can start one, committing
// on success and rolling back on error. An executor that is already a
// TxExecutor is reused so nested calls join the outer transaction.
func RunInTx(ctx context.Context, exec QueryExecutor, fn func(QueryExecutor) error) error {
	if _, ok := exec.(*TxExecutor); ok {
		return fn(exec)
	}
	beginner, ok := exec.(TxBeginner)
	if !ok {
		return ErrNoTransactions
	}
	tx, err := beginner.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(NewTxExecutor(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
