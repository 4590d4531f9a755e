package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/UltimateTournament/backoff/v4"
	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

func isPermanent(err error) bool {
	var p interface{ IsPermanent() bool }
	return errors.As(err, &p) && p.IsPermanent()
}

// ReliableExec runs f against a pooled connection, retrying transient
// failures with exponential backoff. Permanent errors stop the loop.
func ReliableExec(ctx context.Context, pool *pgxpool.Pool, tryTimeout time.Duration, f func(ctx context.Context, conn *pgxpool.Conn) error) error {
	return backoff.Retry(func() error {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("error acquiring pool connection: %w", err)
		}
		defer conn.Release()

		tryCtx, cancel := context.WithTimeout(ctx, tryTimeout)
		defer cancel()

		err = f(tryCtx, conn)
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}

// ReliableExecInTx is ReliableExec wrapped in a retryable transaction via
// cockroach-go, so serialization conflicts restart f rather than failing.
func ReliableExecInTx(ctx context.Context, pool *pgxpool.Pool, tryTimeout time.Duration, f func(ctx context.Context, tx pgx.Tx) error) error {
	return backoff.Retry(func() error {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("error acquiring pool connection: %w", err)
		}
		defer conn.Release()

		tryCtx, cancel := context.WithTimeout(ctx, tryTimeout)
		defer cancel()

		err = crdbpgx.ExecuteTx(tryCtx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return f(tryCtx, tx)
		})
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
}
