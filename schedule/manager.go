// Package schedule 提供可重启的周期任务与任务管理器。
//
// 每个 Task 运行在独立的 goroutine 中，使用单调时钟计时，
// 一个任务执行缓慢不会拖慢其他任务。Manager 记录所有已启动的任务，
// ResetAll 可以将它们全部停止再按原有节奏重新启动，用于从时钟异常等导致的调度停滞中恢复。
//
// 基本使用：
//
//	mgr := schedule.NewManager(schedule.WithLogger(logger))
//	defer mgr.Close()
//
//	task, _ := mgr.NewTask("retry", schedule.FixedDelay, func(ctx context.Context) error {
//		return retryFailed(ctx)
//	}, 30*time.Second, 30*time.Second)
//	_ = task.Start()
package schedule

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/metrics"
)

// MetricTaskRuns 任务执行次数，按 task 和 outcome 区分
const MetricTaskRuns = "schedule_task_runs_total"

// Manager 周期任务管理器。由进程生命周期的根对象持有并注入到各组件。
type Manager struct {
	logger clog.Logger
	runs   metrics.Counter

	mu      sync.Mutex
	started map[string]*Task

	resetting atomic.Bool
	closed    atomic.Bool
}

// NewManager 创建任务管理器
func NewManager(opts ...Option) *Manager {
	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	runs, err := o.meter.Counter(MetricTaskRuns, "Periodic task runs")
	if err != nil {
		o.logger.Warn("create task run counter failed", clog.Error(err))
		runs, _ = metrics.Discard().Counter(MetricTaskRuns, "")
	}

	return &Manager{
		logger:  o.logger,
		runs:    runs,
		started: make(map[string]*Task),
	}
}

// NewTask 创建一个尚未启动的任务。
// initialDelay 为首次执行前的等待时间，period 为执行周期。
func (m *Manager) NewTask(name string, mode Mode, work Work, initialDelay, period time.Duration) (*Task, error) {
	if work == nil {
		return nil, ErrNilWork
	}
	if period <= 0 || initialDelay < 0 {
		return nil, ErrInvalidPeriod
	}
	return &Task{
		id:           uuid.NewString(),
		name:         name,
		mode:         mode,
		work:         work,
		initialDelay: initialDelay,
		period:       period,
		mgr:          m,
	}, nil
}

// ResetAll 将所有已启动的任务停止后按原有节奏重新启动。
// 已有一次重置在进行时直接返回。
func (m *Manager) ResetAll() {
	if !m.resetting.CompareAndSwap(false, true) {
		return
	}
	defer m.resetting.Store(false)

	tasks := m.snapshot()
	m.logger.Warn("resetting all scheduled tasks", clog.Int("tasks", len(tasks)))
	for _, t := range tasks {
		if err := t.restart(); err != nil {
			m.logger.Error("restart task failed", clog.String("task", t.name), clog.Error(err))
		}
	}
}

// Resetting 是否正在执行全局重置
func (m *Manager) Resetting() bool {
	return m.resetting.Load()
}

// Started 返回已启动任务的名称，按字典序排列
func (m *Manager) Started() []string {
	tasks := m.snapshot()
	names := make([]string, 0, len(tasks))
	for _, t := range tasks {
		names = append(names, t.name)
	}
	sort.Strings(names)
	return names
}

// Close 停止所有任务，之后任何任务都不能再启动
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	for _, t := range m.snapshot() {
		t.Stop()
	}
}

func (m *Manager) snapshot() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks := make([]*Task, 0, len(m.started))
	for _, t := range m.started {
		tasks = append(tasks, t)
	}
	return tasks
}

func (m *Manager) track(t *Task) {
	m.mu.Lock()
	m.started[t.id] = t
	m.mu.Unlock()
}

func (m *Manager) untrack(t *Task) {
	m.mu.Lock()
	delete(m.started, t.id)
	m.mu.Unlock()
}
