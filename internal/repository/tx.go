package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Beginner is satisfied by *pgxpool.Pool and pgx.Tx.
type Beginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TxOptions configures RunTx.
type TxOptions struct {
	// MaxAttempts caps how often the whole transaction runs. Values below 1 mean 1.
	MaxAttempts int
	// LockTimeout bounds each row-lock wait; expiry surfaces as a retryable error.
	LockTimeout time.Duration
	// OnRetry is called before each retry with the failed attempt number.
	OnRetry func(attempt int, err error)
}

// RunTx runs fn in a READ COMMITTED transaction, retrying the whole
// transaction on deadlock, serialization failure or lock timeout. fn receives
// a context detached from ctx cancellation: once started the transaction runs
// to commit or rollback.
func RunTx(ctx context.Context, db Beginner, opts TxOptions, fn func(ctx context.Context, tx pgx.Tx) error) error {
	txCtx := context.WithoutCancel(ctx)
	return retryTransient(opts.MaxAttempts, opts.OnRetry, func() error {
		return pgx.BeginTxFunc(txCtx, db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			if opts.LockTimeout > 0 {
				stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.LockTimeout.Milliseconds())
				if _, err := tx.Exec(txCtx, stmt); err != nil {
					return fmt.Errorf("set lock timeout: %w", err)
				}
			}
			return fn(txCtx, tx)
		})
	})
}

func retryTransient(maxAttempts int, onRetry func(int, error), op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt < maxAttempts && onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxAttempts, err)
}
