package llm

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/askdb/askdb/internal/observability"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *slog.Logger
}

type retrying struct {
	next   Generator
	cfg    RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry retries transient failures (transport errors, 429, 5xx,
// empty content) with exponential backoff and jitter. Client errors and
// context cancellation are returned immediately.
func WithRetry(next Generator, cfg RetryConfig) Generator {
	if cfg.MaxAttempts <= 1 {
		return next
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 400 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 6 * time.Second
	}
	return &retrying{next: next, cfg: cfg, logger: observability.OrDiscard(cfg.Logger), sleep: sleepContext}
}

func (r *retrying) Generate(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		out, err := r.next.Generate(ctx, system, user)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !retryable(ctx, err) || attempt == r.cfg.MaxAttempts {
			break
		}
		delay := backoffWithJitter(r.cfg.BaseDelay, r.cfg.MaxDelay, attempt)
		r.logger.WarnContext(ctx, "reasoning service call failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("delay", delay.String()),
			slog.String("error", err.Error()),
		)
		if err := r.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

func backoffWithJitter(base, maxDelay time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > maxDelay {
		d = maxDelay
	}
	// jitter in [0.7, 1.3)
	j := 0.7 + rand.Float64()*0.6
	return time.Duration(float64(d) * j)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
