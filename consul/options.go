package consul

import (
	"time"

	"github.com/ceyewan/consul-registry/breaker"
	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/metrics"
)

// ClientConfig Agent 客户端配置
type ClientConfig struct {
	// Scheme "http" 或 "https"，默认 "http"
	Scheme string `json:"scheme" yaml:"scheme" mapstructure:"scheme"`

	// Token ACL Token，可选
	Token string `json:"token" yaml:"token" mapstructure:"token"`

	// RequestTimeout 单次 HTTP 请求超时，默认 5s
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout"`

	// CheckInterval TCP 检查间隔，默认 10s
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval" mapstructure:"check_interval"`

	// CheckTimeout TCP 检查超时，默认 1s
	CheckTimeout time.Duration `json:"check_timeout" yaml:"check_timeout" mapstructure:"check_timeout"`

	// TTL 消费者注册的 TTL 检查时长，默认 30s
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`

	// DeregisterCriticalAfter 检查持续失败多久后由 Consul 自动注销，0 表示不自动注销
	DeregisterCriticalAfter time.Duration `json:"deregister_critical_after" yaml:"deregister_critical_after" mapstructure:"deregister_critical_after"`
}

func (c *ClientConfig) validate() {
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = time.Second
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
}

// Option 客户端选项
type Option func(*options)

type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	breaker  breaker.Breaker
	resolver MemberResolver
}

func defaultOptions() *options {
	return &options{
		logger:   clog.Discard(),
		meter:    metrics.Discard(),
		resolver: DefaultMemberResolver,
	}
}

// WithLogger 设置 Logger，自动添加 "consul" 命名空间
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("consul")
		}
	}
}

// WithMeter 设置指标
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithBreaker 为每个 Agent 的调用加上熔断保护，以 Agent 地址为熔断键
func WithBreaker(brk breaker.Breaker) Option {
	return func(o *options) {
		o.breaker = brk
	}
}

// WithMemberResolver 自定义成员到 Agent 地址的映射
func WithMemberResolver(r MemberResolver) Option {
	return func(o *options) {
		if r != nil {
			o.resolver = r
		}
	}
}
