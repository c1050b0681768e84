package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

var ErrMaxAttempts = errors.New("max retry attempts exceeded")

// RetryConfig controls the backoff loop wrapped around every upstream call.
// Condition classifies failures: only errors whose string matches are
// retried, everything else propagates immediately.
type RetryConfig struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration

	// MaxAttempts caps the retry loop; -1 retries forever.
	MaxAttempts int

	Condition *regexp.Regexp
}

// DefaultRetryConfig matches the transient connectivity class: connection
// resets, refusals, and timeouts against the connector.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2,
		MaxDelay:     10 * time.Second,
		MaxAttempts:  5,
		Condition:    regexp.MustCompile(`(?i)(ECONNRESET|ECONNREFUSED|connection re(set|fused)|timeout|timed out)`),
	}
}

func (r RetryConfig) delay(attempt int) time.Duration {
	d := time.Duration(float64(r.InitialDelay) * pow(r.Factor, attempt))
	if d > r.MaxDelay || d <= 0 {
		d = r.MaxDelay
	}
	return d
}

func (r RetryConfig) retryable(err error) bool {
	if r.Condition == nil {
		return false
	}
	return r.Condition.MatchString(err.Error())
}

func pow(factor float64, n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= factor
	}
	return out
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// exhausts the attempt budget.
func withRetry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !cfg.retryable(err) {
			return err
		}
		if cfg.MaxAttempts != -1 && attempt >= cfg.MaxAttempts-1 {
			return fmt.Errorf("%w after %d attempts: %s: %s", ErrMaxAttempts, attempt+1, op, err)
		}

		delay := cfg.delay(attempt)
		logger.Warn("retrying upstream call",
			"operation", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
