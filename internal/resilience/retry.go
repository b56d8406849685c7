package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig bounds a retry loop.
type RetryConfig struct {
	// Name labels the operation in log messages.
	Name string

	// MaxAttempts is the total number of tries, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the second attempt. Default: 250ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth. Default: 5s.
	MaxBackoff time.Duration
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff between
// attempts. It returns nil on the first success, ctx.Err() if the context is
// cancelled while waiting, and the last attempt's error once the budget is
// exhausted. Cancellation of ctx between attempts is always honoured; fn
// itself is expected to observe ctx too.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg.applyDefaults()

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			// A cancelled context is control flow, not a retryable failure.
			return ctx.Err()
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		slog.Warn("operation failed, retrying",
			"name", cfg.Name,
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"backoff", backoff,
			"error", lastErr)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fmt.Errorf("%s: %d attempts exhausted: %w", cfg.Name, cfg.MaxAttempts, lastErr)
}
