package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/table-order/metrics"
	"github.com/yeremiapane/table-order/utils"
)

// MySQL error numbers for lock contention.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrLockDeadlock    = 1213
)

// RetryPolicy bounds the re-execution of a transactional unit.
type RetryPolicy struct {
	MaxRetries uint64
	MinDelay   time.Duration
	MaxDelay   time.Duration
	// OnRetry is called before each re-attempt.
	OnRetry func(attempt int, err error)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 4, MinDelay: 20 * time.Millisecond, MaxDelay: 200 * time.Millisecond}
}

// IsTransientContention reports whether err is a lock conflict or lock wait
// timeout raised by the store.
func IsTransientContention(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrLockDeadlock || myErr.Number == mysqlErrLockWaitTimeout
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// WithRetry runs fn, re-running it with capped exponential backoff and
// jitter while it fails with transient contention. Any other error, and the
// last transient error once attempts are exhausted, is returned unchanged.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MinDelay <= 0 {
		policy.MinDelay = time.Millisecond
	}
	if policy.MaxDelay < policy.MinDelay {
		policy.MaxDelay = policy.MinDelay
	}

	backoff := retry.NewExponential(policy.MinDelay)
	backoff = retry.WithJitter(policy.MinDelay, backoff)
	backoff = retry.WithCappedDuration(policy.MaxDelay, backoff)
	backoff = retry.WithMaxRetries(policy.MaxRetries, backoff)

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransientContention(err) {
			return err
		}
		attempt++
		if policy.OnRetry != nil && uint64(attempt) <= policy.MaxRetries {
			policy.OnRetry(attempt, err)
		}
		return retry.RetryableError(err)
	})
}

// withRetryMetrics chains a retry counter for op onto policy.OnRetry.
func withRetryMetrics(policy RetryPolicy, m *metrics.Metrics, op string) RetryPolicy {
	if m == nil {
		return policy
	}
	next := policy.OnRetry
	policy.OnRetry = func(attempt int, err error) {
		m.TxRetries.WithLabelValues(op).Inc()
		utils.InfoLogger.WithFields(logrus.Fields{"op": op, "attempt": attempt, "error": err}).Warn("retrying after store contention")
		if next != nil {
			next(attempt, err)
		}
	}
	return policy
}
