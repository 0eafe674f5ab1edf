package service

import (
	"context"
	"time"

	"twingate/internal/backend"

	"go.uber.org/zap"
)

// readRetryDelay is the pause before the single retry of an idempotent read
var readRetryDelay = 500 * time.Millisecond

// withReadRetry runs fn and retries it once on a transient failure.
// Only use it for reads: mutating calls must not be replayed.
func withReadRetry(ctx context.Context, logger *zap.Logger, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || !backend.ShouldRetry(err) || ctx.Err() != nil {
		return err
	}

	logger.Warn("Retrying read after transient failure", zap.String("op", op), zap.Error(err))

	timer := time.NewTimer(readRetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}
	return fn(ctx)
}
