package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/consul-registry/clog"
)

var errAgentDown = errors.New("agent down")

func newTestBreaker(t *testing.T, cfg *Config, opts ...Option) Breaker {
	t.Helper()
	opts = append([]Option{WithLogger(clog.Discard())}, opts...)
	brk, err := New(cfg, opts...)
	require.NoError(t, err)
	return brk
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrConfigNil)

	cfg := &Config{}
	_, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 0.6, cfg.FailureRatio)
	assert.Equal(t, uint32(10), cfg.MinimumRequests)
}

func TestExecuteSuccess(t *testing.T) {
	brk := newTestBreaker(t, &Config{MinimumRequests: 3})

	result, err := brk.Execute(context.Background(), "10.0.0.1:8500", func() (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	state, err := brk.State("10.0.0.1:8500")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)
}

func TestEmptyKey(t *testing.T) {
	brk := newTestBreaker(t, &Config{})

	_, err := brk.Execute(context.Background(), "", func() (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrKeyEmpty)

	_, err = brk.State("")
	assert.ErrorIs(t, err, ErrKeyEmpty)

	_, err = brk.State("never-used")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTripsAndRejects(t *testing.T) {
	brk := newTestBreaker(t, &Config{Timeout: time.Hour, FailureRatio: 0.5, MinimumRequests: 2})
	ctx := context.Background()
	key := "10.0.0.2:8500"

	calls := 0
	fail := func() (any, error) {
		calls++
		return nil, errAgentDown
	}

	for i := 0; i < 2; i++ {
		_, err := brk.Execute(ctx, key, fail)
		assert.ErrorIs(t, err, errAgentDown)
	}

	state, err := brk.State(key)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, state)

	_, err = brk.Execute(ctx, key, fail)
	assert.ErrorIs(t, err, ErrOpenState)
	assert.Equal(t, 2, calls)

	// 其他键不受影响
	_, err = brk.Execute(ctx, "10.0.0.3:8500", func() (any, error) { return nil, nil })
	assert.NoError(t, err)
}

func TestHalfOpenRecovery(t *testing.T) {
	brk := newTestBreaker(t, &Config{Timeout: 50 * time.Millisecond, FailureRatio: 0.5, MinimumRequests: 1})
	ctx := context.Background()
	key := "10.0.0.4:8500"

	_, _ = brk.Execute(ctx, key, func() (any, error) { return nil, errAgentDown })
	state, _ := brk.State(key)
	require.Equal(t, StateOpen, state)

	require.Eventually(t, func() bool {
		_, err := brk.Execute(ctx, key, func() (any, error) { return nil, nil })
		return err == nil
	}, time.Second, 10*time.Millisecond)

	state, _ = brk.State(key)
	assert.Equal(t, StateClosed, state)
}

func TestCanceledIsNotFailure(t *testing.T) {
	brk := newTestBreaker(t, &Config{Timeout: time.Hour, FailureRatio: 0.5, MinimumRequests: 1})
	key := "10.0.0.5:8500"

	for i := 0; i < 3; i++ {
		_, err := brk.Execute(context.Background(), key, func() (any, error) { return nil, context.Canceled })
		assert.ErrorIs(t, err, context.Canceled)
	}
	state, _ := brk.State(key)
	assert.Equal(t, StateClosed, state)
}

func TestFallback(t *testing.T) {
	var fallbackKey string
	brk := newTestBreaker(t, &Config{Timeout: time.Hour, FailureRatio: 0.5, MinimumRequests: 1},
		WithFallback(func(_ context.Context, key string, err error) error {
			fallbackKey = key
			assert.ErrorIs(t, err, ErrOpenState)
			return nil
		}))
	ctx := context.Background()
	key := "10.0.0.6:8500"

	_, _ = brk.Execute(ctx, key, func() (any, error) { return nil, errAgentDown })
	result, err := brk.Execute(ctx, key, func() (any, error) { return "unreachable", nil })
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, key, fallbackKey)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
