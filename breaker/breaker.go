// Package breaker 为注册中心 Agent 调用提供熔断保护。
//
// 每个熔断键（通常是 Agent 地址）维护独立的 gobreaker 实例：某个 Agent 持续失败时，
// 对它的调用会在 Timeout 内被快速拒绝，而不再等待网络超时；随后进入半开状态探测恢复。
//
// 基本使用：
//
//	brk, _ := breaker.New(&breaker.Config{
//		Timeout:         10 * time.Second,
//		FailureRatio:    0.6,
//		MinimumRequests: 5,
//	}, breaker.WithLogger(logger))
//
//	_, err := brk.Execute(ctx, "10.0.0.1:8500", func() (any, error) {
//		return nil, client.Heartbeat(ctx, checkID)
//	})
package breaker

import (
	"context"
	"time"

	"github.com/ceyewan/consul-registry/clog"
)

// Breaker 熔断器
type Breaker interface {
	// Execute 执行受熔断保护的函数，key 为熔断粒度（Agent 地址等）
	Execute(ctx context.Context, key string, fn func() (any, error)) (any, error)

	// State 获取指定键的熔断器状态
	State(key string) (State, error)
}

// State 熔断器状态
type State int

const (
	// StateClosed 闭合（正常）
	StateClosed State = iota
	// StateHalfOpen 半开（探测恢复）
	StateHalfOpen
	// StateOpen 打开（熔断中）
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// MaxRequests 半开状态下允许通过的最大请求数，默认 1
	MaxRequests uint32 `json:"max_requests" yaml:"max_requests" mapstructure:"max_requests"`

	// Interval 闭合状态下的统计周期，0 表示不清空统计
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`

	// Timeout 打开状态持续时间，默认 60s
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// FailureRatio 触发熔断的失败率，默认 0.6
	FailureRatio float64 `json:"failure_ratio" yaml:"failure_ratio" mapstructure:"failure_ratio"`

	// MinimumRequests 触发熔断的最小请求数，默认 10
	MinimumRequests uint32 `json:"minimum_requests" yaml:"minimum_requests" mapstructure:"minimum_requests"`
}

func (c *Config) validate() error {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.FailureRatio <= 0 || c.FailureRatio > 1 {
		c.FailureRatio = 0.6
	}
	if c.MinimumRequests == 0 {
		c.MinimumRequests = 10
	}
	return nil
}

// New 创建熔断器
func New(cfg *Config, opts ...Option) (Breaker, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opt := options{logger: clog.Discard()}
	for _, o := range opts {
		o(&opt)
	}

	return newBreaker(cfg, opt)
}
