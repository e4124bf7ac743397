package toolloop

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"time"
)

// RetryOption configures a RetryModel.
type RetryOption func(*retryOptions)

type retryOptions struct {
	maxAttempts int
	backoff     func(attempt int) time.Duration
	retryIf     func(error) bool
	logger      *slog.Logger
}

// WithMaxAttempts sets the total number of attempts, including the first. Values below 1 mean 1.
func WithMaxAttempts(n int) RetryOption {
	return func(o *retryOptions) {
		o.maxAttempts = max(n, 1)
	}
}

// WithBackoff sets the delay before retry number attempt (1-based).
func WithBackoff(fn func(attempt int) time.Duration) RetryOption {
	return func(o *retryOptions) {
		if fn != nil {
			o.backoff = fn
		}
	}
}

// WithRetryIf overrides which errors are retried. The default retries ErrModelUnavailable only.
func WithRetryIf(fn func(error) bool) RetryOption {
	return func(o *retryOptions) {
		if fn != nil {
			o.retryIf = fn
		}
	}
}

// WithRetryLogger sets the logger used to report retries.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(o *retryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// ExponentialBackoff returns base, 2*base, 4*base, ... capped at limit (no cap when limit <= 0).
func ExponentialBackoff(base, limit time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			if d > math.MaxInt64/2 {
				d = math.MaxInt64
				break
			}
			d *= 2
			if limit > 0 && d >= limit {
				return limit
			}
		}
		if limit > 0 && d > limit {
			return limit
		}
		return d
	}
}

// RetryModel wraps a Model with a retry policy. The loop itself never retries;
// wrap the model passed to Run when transient failures should be absorbed.
type RetryModel struct {
	next Model
	opts retryOptions
}

// NewRetryModel wraps next. Defaults: 3 attempts, exponential backoff from 1s capped at 30s.
func NewRetryModel(next Model, opts ...RetryOption) *RetryModel {
	o := retryOptions{
		maxAttempts: 3,
		backoff:     ExponentialBackoff(time.Second, 30*time.Second),
		retryIf:     func(err error) bool { return errors.Is(err, ErrModelUnavailable) },
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &RetryModel{next: next, opts: o}
}

// Converse calls the wrapped model, retrying retryable errors until attempts run out
// or ctx is done. The last error is returned.
func (m *RetryModel) Converse(ctx context.Context, history []Message, tools []ToolSpec) (AssistantTurn, error) {
	var lastErr error
	for attempt := 1; attempt <= m.opts.maxAttempts; attempt++ {
		turn, err := m.next.Converse(ctx, history, tools)
		if err == nil {
			return turn, nil
		}
		lastErr = err
		if attempt == m.opts.maxAttempts || !m.opts.retryIf(err) {
			break
		}
		delay := m.opts.backoff(attempt)
		m.opts.logger.WarnContext(ctx, "model call failed, retrying",
			"attempt", attempt, "max_attempts", m.opts.maxAttempts, "delay", delay, "error", err)
		if err := sleepContext(ctx, delay); err != nil {
			return AssistantTurn{}, errors.Join(lastErr, err)
		}
	}
	return AssistantTurn{}, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Model = (*RetryModel)(nil)
