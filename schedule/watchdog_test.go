package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	wall time.Time
	mono time.Time
}

func (c *fakeClock) advance(d time.Duration) {
	c.wall = c.wall.Add(d)
	c.mono = c.mono.Add(d)
}

func newTestWatchdog(t *testing.T, m *Manager, clock *fakeClock, cfg *WatchdogConfig) *ClockWatchdog {
	t.Helper()
	w, err := NewClockWatchdog(m, cfg)
	require.NoError(t, err)
	w.wallNow = func() time.Time { return clock.wall }
	w.monoNow = func() time.Time { return clock.mono }
	return w
}

func TestWatchdogDefaults(t *testing.T) {
	w, err := NewClockWatchdog(newTestManager(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, w.cfg.Interval)
	assert.Equal(t, 2*time.Second, w.cfg.Tolerance)
	assert.Equal(t, time.Minute, w.cfg.MinResetInterval)
}

func TestWatchdogDetectsBackwardJump(t *testing.T) {
	m := newTestManager(t)

	var runs atomic.Int32
	task, err := m.NewTask("heartbeat", FixedDelay, func(context.Context) error {
		runs.Add(1)
		return nil
	}, 100*time.Millisecond, time.Hour)
	require.NoError(t, err)
	require.NoError(t, task.Start())

	clock := &fakeClock{wall: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), mono: time.Now()}
	w := newTestWatchdog(t, m, clock, &WatchdogConfig{Tolerance: time.Second, MinResetInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, w.check(ctx))
	clock.advance(5 * time.Second)
	require.NoError(t, w.check(ctx))
	assert.Equal(t, 0, w.Resets())

	// 墙上时钟回拨一小时，单调时钟正常前进
	clock.wall = clock.wall.Add(-time.Hour)
	clock.mono = clock.mono.Add(5 * time.Second)
	require.NoError(t, w.check(ctx))
	assert.Equal(t, 1, w.Resets())
	assert.True(t, task.Started())

	// 限流：短时间内的再次跳变不会触发重置
	clock.wall = clock.wall.Add(time.Hour)
	require.NoError(t, w.check(ctx))
	assert.Equal(t, 1, w.Resets())

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatchdogIgnoresSmallDrift(t *testing.T) {
	m := newTestManager(t)
	clock := &fakeClock{wall: time.Now(), mono: time.Now()}
	w := newTestWatchdog(t, m, clock, &WatchdogConfig{Tolerance: time.Second})

	require.NoError(t, w.check(context.Background()))
	clock.advance(5 * time.Second)
	clock.wall = clock.wall.Add(500 * time.Millisecond)
	require.NoError(t, w.check(context.Background()))
	assert.Equal(t, 0, w.Resets())
}

func TestWatchdogStartStop(t *testing.T) {
	m := newTestManager(t)
	w, err := NewClockWatchdog(m, &WatchdogConfig{Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, w.Start())
	assert.Equal(t, []string{"clock-watchdog"}, m.Started())
	w.Stop()
	assert.Empty(t, m.Started())
}
