package usecase

import (
	"context"
	"errors"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/example/idcompare/internal/logging"
	"github.com/example/idcompare/internal/repository"
)

// withRedisRetry runs fn, retrying transient Redis failures with exponential
// backoff. Cache misses are returned without logging.
func (uc *ComparisonUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	attempts := uc.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var tries uint
	err := retry.Do(
		func() error {
			tries++
			return fn()
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(uc.initialBackoff),
		retry.MaxDelay(uc.maxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(repository.IsTransientError),
		retry.OnRetry(func(n uint, err error) {
			opLogger.Warn("transient redis error", zap.Error(err), zap.Uint("attempt", n+1))
		}),
	)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Uint("attempts", tries))
		}
		return logging.NewOperationError(operation, requestID, err)
	}
	if tries > 1 {
		opLogger.Info("redis operation succeeded after retry", zap.Uint("attempts", tries))
	}
	return nil
}

func (uc *ComparisonUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}
