package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig configures a [Retrying] provider wrapper.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// failure. Zero disables retrying.
	MaxRetries int

	// InitialDelay is the pause before the first retry. Each subsequent
	// retry doubles the delay. Default: 2s.
	InitialDelay time.Duration
}

// Retrying wraps a [Provider] with bounded retries and exponential backoff.
// Context cancellation is never retried — a cancelled request returns
// immediately so per-batch timeouts stay per-batch.
//
// Retrying is safe for concurrent use when the wrapped provider is.
type Retrying struct {
	inner Provider
	cfg   RetryConfig
}

// WithRetries wraps provider so that transient completion failures are
// retried up to cfg.MaxRetries times with exponential backoff.
func WithRetries(provider Provider, cfg RetryConfig) *Retrying {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	return &Retrying{inner: provider, cfg: cfg}
}

// Complete implements [Provider].
func (r *Retrying) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	delay := r.cfg.InitialDelay

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("llm completion failed, retrying",
				"attempt", attempt,
				"max_retries", r.cfg.MaxRetries,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("llm retry: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// A cancelled or expired context will not recover on retry.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("llm retry: %d attempts failed: %w", r.cfg.MaxRetries+1, lastErr)
}

// Ensure Retrying implements Provider at compile time.
var _ Provider = (*Retrying)(nil)
