// Package retry re-runs units of work that failed with a transient fault.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/walletsaga/internal/domain"
	"go.uber.org/zap"
)

var ErrExhausted = errors.New("retry attempts exhausted")

var retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallet_retry_attempts_total",
	Help: "Units of work re-executed after a transient fault",
}, []string{"operation"})

// Policy retries transient faults with capped, full-jitter exponential backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy(logger *zap.Logger) Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    time.Second,
		Logger:      logger,
	}
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrTransient)
}

// Do runs fn until it succeeds, returns a permanent error, exhausts MaxAttempts
// or ctx is done. Exhaustion wraps the last error in ErrExhausted.
func (p Policy) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			retryAttempts.WithLabelValues(operation).Inc()
			delay := p.backoff(attempt - 1)
			logger.Warn("retrying after transient fault",
				zap.String("operation", operation),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
			if serr := sleep(ctx, delay); serr != nil {
				return fmt.Errorf("%s: %w (last error: %w)", operation, serr, err)
			}
		}

		err = fn(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}
	}

	return fmt.Errorf("%s: %w after %d attempts: %w", operation, ErrExhausted, attempts, err)
}

// backoff returns a random delay in [0, min(MaxDelay, BaseDelay*2^attempt)).
func (p Policy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := p.BaseDelay << attempt
	if delay <= 0 || (p.MaxDelay > 0 && delay > p.MaxDelay) {
		delay = p.MaxDelay
	}
	if delay <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		return delay / 2
	}
	return time.Duration(n.Int64())
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
