package registry

import (
	"github.com/ceyewan/consul-registry/breaker"
	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/consul"
	"github.com/ceyewan/consul-registry/metrics"
	"github.com/ceyewan/consul-registry/schedule"
)

// Option 组件初始化选项函数
type Option func(*options)

// options 选项结构
type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	scheduler *schedule.Manager
	breaker   breaker.Breaker
	resolver  consul.MemberResolver
}

// WithLogger 注入日志记录器
// 组件内部会自动追加 "registry" namespace
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("registry")
		}
	}
}

// WithMeter 注入指标
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithScheduler 使用外部的任务管理器，便于进程统一 ResetAll。
// 未设置时 Registry 自行创建并在 Destroy 时关闭。
func WithScheduler(mgr *schedule.Manager) Option {
	return func(o *options) {
		o.scheduler = mgr
	}
}

// WithBreaker 为每个 Agent 的调用加上熔断
func WithBreaker(b breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = b
	}
}

// WithMemberResolver 自定义成员到 Agent 地址的映射
func WithMemberResolver(r consul.MemberResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}
