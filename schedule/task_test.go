package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/consul-registry/clog"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(WithLogger(clog.Discard()))
	t.Cleanup(m.Close)
	return m
}

func TestNewTaskValidation(t *testing.T) {
	m := newTestManager(t)
	noop := func(context.Context) error { return nil }

	_, err := m.NewTask("nil", FixedRate, nil, 0, time.Second)
	assert.ErrorIs(t, err, ErrNilWork)

	_, err = m.NewTask("zero", FixedRate, noop, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = m.NewTask("negative-delay", FixedDelay, noop, -time.Second, time.Second)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	task, err := m.NewTask("ok", FixedDelay, noop, 0, time.Second)
	require.NoError(t, err)
	assert.False(t, task.Started())
	assert.Equal(t, "ok", task.Name())
	assert.Equal(t, FixedDelay, task.Mode())
	assert.NotEmpty(t, task.ID())
}

func TestTaskRunsRepeatedly(t *testing.T) {
	for _, mode := range []Mode{FixedRate, FixedDelay} {
		t.Run(mode.String(), func(t *testing.T) {
			m := newTestManager(t)
			var runs atomic.Int32
			task, err := m.NewTask("tick", mode, func(context.Context) error {
				runs.Add(1)
				return nil
			}, 0, 10*time.Millisecond)
			require.NoError(t, err)

			require.NoError(t, task.Start())
			assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
		})
	}
}

// 执行耗时 60ms、周期 100ms：固定频率按开始时间对齐，固定延迟从上次结束起算
func TestModeSpacing(t *testing.T) {
	const (
		work   = 60 * time.Millisecond
		period = 100 * time.Millisecond
		runs   = 4
	)
	tests := []struct {
		mode     Mode
		min, max time.Duration
	}{
		{mode: FixedRate, min: 60 * time.Millisecond, max: 140 * time.Millisecond},
		{mode: FixedDelay, min: work + period - 5*time.Millisecond, max: time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			m := newTestManager(t)
			var mu sync.Mutex
			var starts []time.Time
			task, err := m.NewTask("spacing", tt.mode, func(context.Context) error {
				mu.Lock()
				starts = append(starts, time.Now())
				mu.Unlock()
				time.Sleep(work)
				return nil
			}, 0, period)
			require.NoError(t, err)
			require.NoError(t, task.Start())

			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(starts) >= runs
			}, 5*time.Second, 10*time.Millisecond)
			task.Stop()

			mu.Lock()
			defer mu.Unlock()
			var total time.Duration
			for i := 1; i < runs; i++ {
				gap := starts[i].Sub(starts[i-1])
				assert.GreaterOrEqual(t, gap, tt.min, "gap %d", i)
				total += gap
			}
			assert.LessOrEqual(t, total/(runs-1), tt.max)
		})
	}
}

func TestInitialDelay(t *testing.T) {
	m := newTestManager(t)
	var runs atomic.Int32
	task, err := m.NewTask("delayed", FixedDelay, func(context.Context) error {
		runs.Add(1)
		return nil
	}, 200*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, task.Start())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestStartStopIdempotent(t *testing.T) {
	m := newTestManager(t)
	var runs atomic.Int32
	task, err := m.NewTask("idem", FixedDelay, func(context.Context) error {
		runs.Add(1)
		return nil
	}, 0, 10*time.Millisecond)
	require.NoError(t, err)

	task.Stop()
	require.NoError(t, task.Start())
	require.NoError(t, task.Start())
	assert.Equal(t, []string{"idem"}, m.Started())
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	task.Stop()
	task.Stop()
	task.Wait()
	assert.False(t, task.Started())
	assert.Empty(t, m.Started())

	stopped := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())

	// 停止后可以重新启动
	require.NoError(t, task.Start())
	assert.Eventually(t, func() bool { return runs.Load() > stopped }, 2*time.Second, 5*time.Millisecond)
}

func TestFailuresDoNotCancelFutureRuns(t *testing.T) {
	m := newTestManager(t)
	var runs atomic.Int32
	task, err := m.NewTask("flaky", FixedRate, func(context.Context) error {
		n := runs.Add(1)
		switch n {
		case 1:
			return errors.New("backend unavailable")
		case 2:
			panic("unexpected")
		}
		return nil
	}, 0, 5*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, task.Start())

	assert.Eventually(t, func() bool { return runs.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopCancelsInFlightWork(t *testing.T) {
	m := newTestManager(t)
	entered := make(chan struct{})
	var cancelled atomic.Bool
	task, err := m.NewTask("blocking", FixedDelay, func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}, 0, time.Hour)
	require.NoError(t, err)
	require.NoError(t, task.Start())

	<-entered
	task.Stop()
	task.Wait()
	assert.True(t, cancelled.Load())
}

func TestTaskNeverRunsConcurrently(t *testing.T) {
	m := newTestManager(t)
	var active, maxActive atomic.Int32
	var mu sync.Mutex
	task, err := m.NewTask("serial", FixedRate, func(context.Context) error {
		n := active.Add(1)
		mu.Lock()
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	}, 0, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, task.Start())

	for i := 0; i < 5; i++ {
		m.ResetAll()
		time.Sleep(10 * time.Millisecond)
	}
	task.Stop()
	task.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestResetAllRestartsOnlyStartedTasks(t *testing.T) {
	m := newTestManager(t)
	var a, b atomic.Int32
	taskA, err := m.NewTask("a", FixedDelay, func(context.Context) error {
		a.Add(1)
		return nil
	}, 100*time.Millisecond, time.Hour)
	require.NoError(t, err)
	taskB, err := m.NewTask("b", FixedDelay, func(context.Context) error {
		b.Add(1)
		return nil
	}, 0, time.Hour)
	require.NoError(t, err)

	require.NoError(t, taskA.Start())
	m.ResetAll()

	assert.True(t, taskA.Started())
	assert.False(t, taskB.Started())
	assert.False(t, m.Resetting())
	assert.Eventually(t, func() bool { return a.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), b.Load())
}

func TestManagerClose(t *testing.T) {
	m := NewManager()
	task, err := m.NewTask("x", FixedDelay, func(context.Context) error { return nil }, 0, time.Hour)
	require.NoError(t, err)
	require.NoError(t, task.Start())

	m.Close()
	m.Close()
	assert.False(t, task.Started())
	assert.ErrorIs(t, task.Start(), ErrManagerClosed)
}
