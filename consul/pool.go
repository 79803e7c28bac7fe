package consul

import (
	"sync"

	"github.com/ceyewan/consul-registry/clog"
)

// Pool 按地址缓存 Agent 客户端，同一地址只创建一次
type Pool struct {
	cfg  ClientConfig
	opts *options

	mu      sync.Mutex
	clients map[AgentAddress]*Client
	closed  bool
}

// NewPool 创建客户端池，所有客户端共享配置、日志、指标和熔断器
func NewPool(cfg *ClientConfig, opts ...Option) *Pool {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	c := ClientConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.validate()
	return &Pool{cfg: c, opts: o, clients: make(map[AgentAddress]*Client)}
}

// Get 返回指定地址的客户端
func (p *Pool) Get(addr AgentAddress) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClientClosed
	}
	if c, ok := p.clients[addr]; ok {
		return c, nil
	}
	c, err := newClient(addr, &p.cfg, p.opts)
	if err != nil {
		return nil, err
	}
	p.clients[addr] = c
	p.opts.logger.Debug("agent client created", clog.String("agent", addr.String()))
	return c, nil
}

// Resolver 返回池使用的成员地址映射
func (p *Pool) Resolver() MemberResolver {
	return p.opts.resolver
}

// Logger 返回池使用的 Logger
func (p *Pool) Logger() clog.Logger {
	return p.opts.logger
}

// Close 关闭池，之后 Get 返回 ErrClientClosed
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	clear(p.clients)
}
