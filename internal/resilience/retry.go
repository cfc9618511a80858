package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryOption configures RetryWithBackoff
type RetryOption func(*retryConfig)

type retryConfig struct {
	maxRetries uint64
	delay      time.Duration
	onRetry    func(err error, wait time.Duration)
	classifier func(error) bool // true when the error is worth retrying
}

// WithMaxRetries sets the number of retries after the first attempt
func WithMaxRetries(n uint64) RetryOption {
	return func(c *retryConfig) {
		c.maxRetries = n
	}
}

// WithDelay sets the constant delay between attempts
func WithDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) {
		c.delay = d
	}
}

// WithOnRetry sets a callback for each retry attempt
func WithOnRetry(fn func(err error, wait time.Duration)) RetryOption {
	return func(c *retryConfig) {
		c.onRetry = fn
	}
}

// WithRetryClassifier sets a function to determine if an error is retryable
func WithRetryClassifier(fn func(error) bool) RetryOption {
	return func(c *retryConfig) {
		c.classifier = fn
	}
}

// RetryWithBackoff runs operation and retries it with a constant delay while the
// classifier accepts the error. Defaults to a single retry after one second.
// The wait between attempts ends early when ctx is cancelled.
func RetryWithBackoff(ctx context.Context, operation func() error, opts ...RetryOption) error {
	cfg := &retryConfig{
		maxRetries: 1,
		delay:      time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var bo backoff.BackOff = backoff.NewConstantBackOff(cfg.delay)
	bo = backoff.WithMaxRetries(bo, cfg.maxRetries)
	bo = backoff.WithContext(bo, ctx)

	wrapped := func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if cfg.classifier != nil && !cfg.classifier(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if cfg.onRetry != nil {
		return backoff.RetryNotify(wrapped, bo, cfg.onRetry)
	}
	return backoff.Retry(wrapped, bo)
}
