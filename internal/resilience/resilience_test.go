package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func transient(error) Verdict { return Verdict{Retry: true, Count: true} }

func TestExecutor_RetriesUntilSuccess(t *testing.T) {
	exec := NewExecutor(Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})

	calls := 0
	err := exec.Do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	}, transient)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecutor_PermanentErrorsAreNotRetried(t *testing.T) {
	exec := NewExecutor(Config{MaxAttempts: 5, InitialBackoff: time.Millisecond})

	calls := 0
	err := exec.Do(context.Background(), "op", func(context.Context) error {
		calls++
		return errFlaky
	}, nil)

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestExecutor_StopsOnCancelledContext(t *testing.T) {
	exec := NewExecutor(Config{MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := exec.Do(ctx, "op", func(context.Context) error {
		calls++
		return errFlaky
	}, transient)

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestExecutor_BreakerOpens(t *testing.T) {
	exec := NewExecutor(Config{
		MaxAttempts:      1,
		MinRequests:      2,
		FailureRatio:     0.5,
		OpenTimeout:      time.Minute,
		HalfOpenMaxCalls: 1,
	})

	for range 2 {
		err := exec.Do(context.Background(), "op", func(context.Context) error { return errFlaky }, Permanent)
		require.ErrorIs(t, err, errFlaky)
	}

	err := exec.Do(context.Background(), "op", func(context.Context) error {
		t.Fatal("call must not run while the breaker is open")
		return nil
	}, Permanent)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, IsOpen(err))

	// breakers are per operation
	err = exec.Do(context.Background(), "other", func(context.Context) error { return nil }, Permanent)
	assert.NoError(t, err)
}

func TestExecutor_UncountedFailuresKeepBreakerClosed(t *testing.T) {
	exec := NewExecutor(Config{MaxAttempts: 1, MinRequests: 1, FailureRatio: 0.1})
	ignore := func(error) Verdict { return Verdict{} }

	for range 5 {
		err := exec.Do(context.Background(), "op", func(context.Context) error { return errFlaky }, ignore)
		assert.False(t, IsOpen(err))
	}
}

func TestExecutor_BreakerDisabled(t *testing.T) {
	exec := NewExecutor(Config{MaxAttempts: 1, MinRequests: 1, BreakerDisabled: true})
	for range 5 {
		err := exec.Do(context.Background(), "op", func(context.Context) error { return errFlaky }, Permanent)
		assert.ErrorIs(t, err, errFlaky)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)

	cfg = Config{InitialBackoff: time.Second}.withDefaults()
	assert.Equal(t, time.Second, cfg.MaxBackoff)
}
