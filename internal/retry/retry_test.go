package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/walletsaga/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(attempts int) (Policy, *[]time.Duration) {
	var slept []time.Duration
	p := Policy{
		MaxAttempts: attempts,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    40 * time.Millisecond,
		sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return ctx.Err()
		},
	}
	return p, &slept
}

func TestDo_SucceedsAfterTransientFaults(t *testing.T) {
	p, slept := testPolicy(5)
	calls := 0

	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return domain.Transient(errors.New("deadlock detected"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, *slept, 2)
}

func TestDo_PermanentErrorReturnsImmediately(t *testing.T) {
	p, slept := testPolicy(5)
	calls := 0

	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return domain.ErrUnbalancedTransfer
	})

	assert.ErrorIs(t, err, domain.ErrUnbalancedTransfer)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestDo_Exhausted(t *testing.T) {
	p, _ := testPolicy(3)
	cause := errors.New("connection reset")
	calls := 0

	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return domain.Transient(cause)
	})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	p, _ := testPolicy(5)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := p.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		cancel()
		return domain.Transient(errors.New("timeout"))
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_Bounds(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond}

	for attempt := 0; attempt < 40; attempt++ {
		ceiling := p.BaseDelay << min(attempt, 30)
		if ceiling <= 0 || ceiling > p.MaxDelay {
			ceiling = p.MaxDelay
		}
		d := p.backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, ceiling, "attempt %d", attempt)
	}

	assert.Zero(t, Policy{}.backoff(3))
}

func TestSleepWithContext(t *testing.T) {
	require.NoError(t, sleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepWithContext(ctx, time.Hour), context.Canceled)
}
