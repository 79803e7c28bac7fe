package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/metrics"
)

// Mode 调度模式
type Mode int

const (
	// FixedRate 第 k 次执行的目标时间为 start + initialDelay + k*period，与执行耗时无关。
	// 执行超时时后续执行会立即补上，但同一任务不会并发执行。
	FixedRate Mode = iota
	// FixedDelay 上一次执行完成后等待 period 再执行下一次
	FixedDelay
)

func (m Mode) String() string {
	switch m {
	case FixedRate:
		return "fixed_rate"
	case FixedDelay:
		return "fixed_delay"
	default:
		return "unknown"
	}
}

// Work 任务函数。ctx 在任务停止时被取消。
// 返回的错误和 panic 只会被记录，不会终止后续执行。
type Work func(ctx context.Context) error

// Task 可重复启动和停止的周期任务
type Task struct {
	id           string
	name         string
	mode         Mode
	work         Work
	initialDelay time.Duration
	period       time.Duration
	mgr          *Manager

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func (t *Task) ID() string                  { return t.id }
func (t *Task) Name() string                { return t.name }
func (t *Task) Mode() Mode                  { return t.mode }
func (t *Task) Period() time.Duration       { return t.period }
func (t *Task) InitialDelay() time.Duration { return t.initialDelay }

// Started 任务是否处于启动状态
func (t *Task) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Start 启动任务，已启动时为空操作
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startLocked()
}

// Stop 停止任务并取消正在执行的 Work 的 ctx，未启动时为空操作。
// Stop 不等待正在执行的 Work 返回，可以在 Work 内部调用。
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Wait 等待最近一次启动的执行 goroutine 退出
func (t *Task) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (t *Task) restart() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return nil
	}
	t.stopLocked()
	return t.startLocked()
}

func (t *Task) startLocked() error {
	if t.started {
		return nil
	}
	if t.mgr.closed.Load() {
		return ErrManagerClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := t.done
	done := make(chan struct{})

	t.started = true
	t.cancel = cancel
	t.done = done
	t.mgr.track(t)

	go t.loop(ctx, prev, done)
	return nil
}

func (t *Task) stopLocked() {
	if !t.started {
		return
	}
	t.started = false
	t.cancel()
	t.cancel = nil
	t.mgr.untrack(t)
}

func (t *Task) loop(ctx context.Context, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	// 上一轮停止后 Work 可能仍在返回途中，同一任务不能并发执行
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	next := time.Now().Add(t.initialDelay)
	timer := time.NewTimer(t.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		t.runOnce(ctx)

		var wait time.Duration
		if t.mode == FixedRate {
			next = next.Add(t.period)
			wait = max(time.Until(next), 0)
		} else {
			wait = t.period
		}
		timer.Reset(wait)
	}
}

func (t *Task) runOnce(ctx context.Context) {
	outcome := metrics.OutcomeSuccess
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			t.mgr.logger.Error("scheduled task panicked",
				clog.String("task", t.name), clog.String("panic", fmt.Sprint(r)))
		}
		t.mgr.runs.Inc(ctx, metrics.L(metrics.LabelTask, t.name), metrics.L(metrics.LabelOutcome, outcome))
	}()

	if err := t.work(ctx); err != nil {
		outcome = metrics.OutcomeError
		t.mgr.logger.Warn("scheduled task failed", clog.String("task", t.name), clog.Error(err))
	}
}
