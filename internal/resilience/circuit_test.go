package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker("test", cfg)
	now := time.Now()
	cb.nowFunc = func() time.Time { return now }
	return cb, &now
}

func TestCircuitStaysClosedOnSuccess(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// Calls are now rejected without invoking fn.
	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})
	boom := errors.New("boom")

	fail := func(ctx context.Context) error { return boom }
	ok := func(ctx context.Context) error { return nil }

	cb.Execute(context.Background(), fail)
	cb.Execute(context.Background(), fail)
	cb.Execute(context.Background(), ok)
	cb.Execute(context.Background(), fail)
	cb.Execute(context.Background(), fail)

	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitHalfOpenAfterResetTimeout(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
	})
	boom := errors.New("boom")

	cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	assert.Equal(t, CircuitOpen, cb.State())

	*now = now.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())
}

func TestCircuitProbeSuccessCloses(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
	})
	boom := errors.New("boom")

	cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	*now = now.Add(31 * time.Second)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitProbeFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
	})
	boom := errors.New("boom")

	cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	*now = now.Add(31 * time.Second)

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, CircuitOpen, cb.State())

	// Still open before another reset window elapses.
	err = cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitShouldTripFilter(t *testing.T) {
	permanent := errors.New("bad request")
	cb, _ := newTestBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       IsTransient,
	})

	// A non-transient error passes through without tripping the breaker.
	err := cb.Execute(context.Background(), func(ctx context.Context) error { return permanent })
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, CircuitClosed, cb.State())

	// A transient error trips it.
	transient := &statusErr{code: 503}
	cb.Execute(context.Background(), func(ctx context.Context) error { return transient })
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitReset(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	boom := errors.New("boom")

	cb.Execute(context.Background(), func(ctx context.Context) error { return boom })
	assert.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())

	err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestExecuteVal(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	val, err := ExecuteVal(context.Background(), cb, func(ctx context.Context) (string, error) {
		return "content", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "content", val)

	boom := errors.New("boom")
	_, err = ExecuteVal(context.Background(), cb, func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)

	// Circuit is now open; value calls are rejected too.
	val, err = ExecuteVal(context.Background(), cb, func(ctx context.Context) (string, error) {
		return "unreachable", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Empty(t, val)
}
