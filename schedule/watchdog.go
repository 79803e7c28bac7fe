package schedule

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/consul-registry/clog"
)

// WatchdogConfig 时钟看门狗配置
type WatchdogConfig struct {
	// Interval 采样周期，默认 5s
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`

	// Tolerance 墙上时钟与单调时钟的最大允许偏差，默认 2s
	Tolerance time.Duration `json:"tolerance" yaml:"tolerance" mapstructure:"tolerance"`

	// MinResetInterval 两次全局重置之间的最短间隔，默认 1m
	MinResetInterval time.Duration `json:"min_reset_interval" yaml:"min_reset_interval" mapstructure:"min_reset_interval"`
}

func (c *WatchdogConfig) validate() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 2 * time.Second
	}
	if c.MinResetInterval <= 0 {
		c.MinResetInterval = time.Minute
	}
}

// ClockWatchdog 检测墙上时钟跳变（例如被手动回拨），发现后触发 Manager.ResetAll。
type ClockWatchdog struct {
	mgr     *Manager
	cfg     WatchdogConfig
	limiter *rate.Limiter
	task    *Task

	// 墙上时钟与单调时钟，测试中可替换
	wallNow func() time.Time
	monoNow func() time.Time

	mu       sync.Mutex
	lastWall time.Time
	lastMono time.Time
	resets   int
}

// NewClockWatchdog 创建时钟看门狗，cfg 为 nil 时使用默认配置
func NewClockWatchdog(mgr *Manager, cfg *WatchdogConfig) (*ClockWatchdog, error) {
	c := WatchdogConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.validate()

	w := &ClockWatchdog{
		mgr:     mgr,
		cfg:     c,
		limiter: rate.NewLimiter(rate.Every(c.MinResetInterval), 1),
		wallNow: func() time.Time { return time.Now().Round(0) },
		monoNow: time.Now,
	}

	task, err := mgr.NewTask("clock-watchdog", FixedDelay, w.check, c.Interval, c.Interval)
	if err != nil {
		return nil, err
	}
	w.task = task
	return w, nil
}

// Start 启动看门狗
func (w *ClockWatchdog) Start() error {
	return w.task.Start()
}

// Stop 停止看门狗
func (w *ClockWatchdog) Stop() {
	w.task.Stop()
}

// Resets 已触发的全局重置次数
func (w *ClockWatchdog) Resets() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resets
}

func (w *ClockWatchdog) check(_ context.Context) error {
	wall := w.wallNow().Round(0)
	mono := w.monoNow()

	w.mu.Lock()
	lastWall, lastMono := w.lastWall, w.lastMono
	w.lastWall, w.lastMono = wall, mono
	w.mu.Unlock()

	if lastMono.IsZero() {
		return nil
	}

	drift := wall.Sub(lastWall) - mono.Sub(lastMono)
	if drift.Abs() <= w.cfg.Tolerance {
		return nil
	}

	logger := w.mgr.logger
	if !w.limiter.Allow() {
		logger.Warn("clock jump detected, reset throttled", clog.Duration("drift", drift))
		return nil
	}

	logger.Warn("clock jump detected, resetting scheduled tasks", clog.Duration("drift", drift))
	w.mu.Lock()
	w.resets++
	w.mu.Unlock()

	// 重置包含看门狗自身，新的循环在本次执行返回后才开始
	w.mgr.ResetAll()
	return nil
}
