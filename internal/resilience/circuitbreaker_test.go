package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-hedger/internal/errors"
)

var errUpstream = errors.ErrPriceUnavailable

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("BTC", CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()
	fail := func(context.Context) error { return errUpstream }

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, int64(1), cb.Stats().TotalRejected)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("ETH", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Second})
	cb.now = func() time.Time { return now }

	var transitions []CircuitState
	cb.OnStateChange(func(_ string, _, to CircuitState) {
		transitions = append(transitions, to)
	})

	ctx := context.Background()
	_ = cb.Execute(ctx, func(context.Context) error { return errUpstream })
	require.Equal(t, CircuitOpen, cb.State())
	assert.Equal(t, now.Add(10*time.Second), cb.Stats().ProbeAt)

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, CircuitHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())

	assert.Equal(t, []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("SOL", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errUpstream })
	now = now.Add(2 * time.Second)
	_ = cb.Execute(ctx, func(context.Context) error { return errUpstream })
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestExecuteWithResult_ContextCancelledCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("BTC", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExecuteWithResult(ctx, cb, func(context.Context) (float64, error) { return 1, nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestRegistry_OneBreakerPerKey(t *testing.T) {
	r := NewRegistry(DefaultCircuitBreakerConfig(), nil)
	assert.Same(t, r.Get("BTC"), r.Get("BTC"))
	assert.NotSame(t, r.Get("BTC"), r.Get("ETH"))
	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "BTC", stats[0].Name)
	assert.Equal(t, "ETH", stats[1].Name)
	assert.True(t, stats[0].ProbeAt.IsZero())
}
