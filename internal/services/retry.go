package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/honeynil/venue-ledger/internal/infrastructure/observability"
	"github.com/honeynil/venue-ledger/internal/repository"
	pkgerrors "github.com/honeynil/venue-ledger/pkg/errors"
)

type RetryConfig struct {
	Attempts uint
	Delay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, Delay: 20 * time.Millisecond}
}

// atomically runs fn as one transaction and re-runs the whole unit when it
// lost a lock or serialization race. fn must not leak state between attempts.
func atomically(ctx context.Context, tx repository.Transactor, cfg RetryConfig, op string, fn func(ctx context.Context) error) error {
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error {
			return tx.WithinTx(ctx, fn)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(cfg.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, pkgerrors.ErrConcurrencyConflict)
		}),
		retry.OnRetry(func(n uint, err error) {
			observability.ConcurrencyRetries.WithLabelValues(op).Inc()
			slog.Warn("retrying atomic unit after conflict", "operation", op, "attempt", n+1, "error", err)
		}),
	)
}
