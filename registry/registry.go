// Package registry 是基于 Consul Agent 的客户端服务注册与发现。
//
// Registry 维护三类本地状态：已确认注册的端点、注册失败待重试的端点、订阅及其监听器。
// 三个后台任务保证最终一致：
//   - 重试任务：检查所有端点是否仍在 Consul 中，缺失则重新注册
//   - 订阅检查任务：为每个订阅查询健康实例并投递完整快照
//   - TTL 心跳任务：为消费者注册的 TTL 检查发送心跳
//
// 对外操作从不因后端故障返回错误，失败只记录日志，由后台任务兜底。
//
// 基本使用：
//
//	reg, err := registry.New(&registry.Config{Address: "10.0.0.1:8500,10.0.0.2:8500"},
//		registry.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer reg.Destroy()
//
//	ep := registry.MustParseEndpoint("dubbo://10.0.0.1:20880/com.x.Foo?version=1.0")
//	_ = reg.Register(ctx, ep)
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/consul"
	"github.com/ceyewan/consul-registry/metrics"
	"github.com/ceyewan/consul-registry/schedule"
	"github.com/ceyewan/consul-registry/xerrors"
)

// 指标名
const (
	MetricOperations = "registry_operations_total"
	MetricReconnects = "registry_reconnects_total"
	MetricAvailable  = "registry_available"
)

// 任务名
const (
	TaskRetry     = "registry-retry"
	TaskCheck     = "registry-subscription-check"
	TaskHeartbeat = "registry-ttl-heartbeat"
)

// Registry 服务注册与发现
type Registry interface {
	// Register 注册端点。后端失败不返回错误，端点进入待重试集合
	Register(ctx context.Context, ep *Endpoint) error

	// Unregister 注销端点，并停止对它的重试与心跳
	Unregister(ctx context.Context, ep *Endpoint) error

	// Subscribe 订阅端点对应服务的实例变化，立即投递一次当前快照。
	// 协议为 provider 的端点会被忽略
	Subscribe(ctx context.Context, ep *Endpoint, l NotifyListener) error

	// Unsubscribe 取消订阅
	Unsubscribe(ep *Endpoint, l NotifyListener)

	// Lookup 查询健康实例，失败时返回空列表，从不返回 nil
	Lookup(ctx context.Context, ep *Endpoint) []*Endpoint

	// IsAvailable 当前是否连接到可用的 Agent
	IsAvailable() bool

	// Status 返回运行状态快照
	Status() Status

	// Destroy 停止所有后台任务，之后不可再使用
	Destroy()
}

// Status 运行状态快照
type Status struct {
	Available     bool     `json:"available"`
	CurrentAgent  string   `json:"current_agent"`
	Agents        []string `json:"agents"`
	Registered    int      `json:"registered"`
	Pending       int      `json:"pending"`
	Subscriptions int      `json:"subscriptions"`
	TTLChecks     int      `json:"ttl_checks"`
	Closed        bool     `json:"closed"`
}

// connection 当前使用的 Agent，地址与客户端总是成对替换
type connection struct {
	addr   consul.AgentAddress
	client *consul.Client
}

type consulRegistry struct {
	cfg    Config
	logger clog.Logger

	pool *consul.Pool
	book *consul.AddressBook

	scheduler    *schedule.Manager
	ownScheduler bool
	tasks        []*schedule.Task

	conn        atomic.Pointer[connection]
	reconnectMu sync.Mutex
	available   atomic.Bool

	// 端点键 -> *Endpoint
	confirmed sync.Map
	failed    sync.Map
	// 端点键 -> TTL 检查 ID
	ttlChecks sync.Map

	subMu sync.Mutex
	subs  map[string]*subscription

	cache *otter.Cache[string, []*Endpoint]

	ops        metrics.Counter
	reconnects metrics.Counter
	availGauge metrics.Gauge

	closed atomic.Bool
}

// New 创建 Registry 并启动后台任务。
// 没有可用地址时返回 CONFIG 错误；Agent 暂时不可达不算错误。
func New(cfg *Config, opts ...Option) (Registry, error) {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	seeds, err := c.validate()
	if err != nil {
		return nil, err
	}

	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}

	poolOpts := []consul.Option{consul.WithLogger(o.logger), consul.WithMeter(o.meter)}
	if o.breaker != nil {
		poolOpts = append(poolOpts, consul.WithBreaker(o.breaker))
	}
	if o.resolver != nil {
		poolOpts = append(poolOpts, consul.WithMemberResolver(o.resolver))
	}
	pool := consul.NewPool(&c.Client, poolOpts...)

	r := &consulRegistry{
		cfg:       c,
		logger:    o.logger,
		pool:      pool,
		book:      consul.NewAddressBook(pool, seeds),
		scheduler: o.scheduler,
		subs:      make(map[string]*subscription),
	}
	if r.scheduler == nil {
		r.scheduler = schedule.NewManager(schedule.WithLogger(o.logger), schedule.WithMeter(o.meter))
		r.ownScheduler = true
	}
	if err := r.initMetrics(o.meter); err != nil {
		return nil, err
	}
	if c.EnableCache {
		r.cache, err = otter.New(&otter.Options[string, []*Endpoint]{
			MaximumSize:      10000,
			ExpiryCalculator: otter.ExpiryWriting[string, []*Endpoint](c.CacheExpiration),
		})
		if err != nil {
			return nil, xerrors.Wrap(err, "failed to build lookup cache")
		}
	}

	initTimeout := r.cfg.Client.RequestTimeout
	if initTimeout <= 0 {
		initTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*initTimeout)
	defer cancel()
	if _, err := r.book.Resolve(ctx); err != nil {
		r.logger.Warn("initial agent resolution failed", clog.Error(err))
	}
	r.reconnect(ctx)

	if err := r.startTasks(); err != nil {
		r.stopTasks()
		if r.ownScheduler {
			r.scheduler.Close()
		}
		return nil, err
	}

	r.logger.Info("registry started",
		clog.Strings("seeds", addrStrings(seeds)),
		clog.String("group", c.Group),
		clog.Bool("available", r.IsAvailable()))
	return r, nil
}

func (r *consulRegistry) initMetrics(meter metrics.Meter) error {
	var err error
	if r.ops, err = meter.Counter(MetricOperations, "Registry operations"); err != nil {
		return xerrors.Wrap(err, "create operations counter")
	}
	if r.reconnects, err = meter.Counter(MetricReconnects, "Agent reconnect attempts"); err != nil {
		return xerrors.Wrap(err, "create reconnects counter")
	}
	if r.availGauge, err = meter.Gauge(MetricAvailable, "Whether a responsive agent is connected"); err != nil {
		return xerrors.Wrap(err, "create available gauge")
	}
	return nil
}

func (r *consulRegistry) startTasks() error {
	specs := []struct {
		name   string
		period time.Duration
		work   schedule.Work
	}{
		{TaskRetry, r.cfg.RetryPeriod, r.retry},
		{TaskCheck, r.cfg.CheckPeriod, r.checkSubscriptions},
		{TaskHeartbeat, r.cfg.TTLPeriod, r.heartbeat},
	}
	for _, s := range specs {
		t, err := r.scheduler.NewTask(s.name, schedule.FixedDelay, s.work, s.period, s.period)
		if err != nil {
			return xerrors.Wrapf(err, "create task %s", s.name)
		}
		if err := t.Start(); err != nil {
			return xerrors.Wrapf(err, "start task %s", s.name)
		}
		r.tasks = append(r.tasks, t)
	}
	return nil
}

func (r *consulRegistry) stopTasks() {
	for _, t := range r.tasks {
		t.Stop()
	}
}

// ensureOpen 检查 registry 是否已销毁
func (r *consulRegistry) ensureOpen() error {
	if r.closed.Load() {
		return ErrRegistryClosed
	}
	return nil
}

func (r *consulRegistry) IsAvailable() bool {
	return r.available.Load()
}

func (r *consulRegistry) Status() Status {
	s := Status{
		Available:  r.IsAvailable(),
		Agents:     addrStrings(r.book.Addresses()),
		Registered: countMap(&r.confirmed),
		Pending:    countMap(&r.failed),
		TTLChecks:  len(r.ttlCheckIDs()),
		Closed:     r.closed.Load(),
	}
	if c := r.conn.Load(); c != nil {
		s.CurrentAgent = c.addr.String()
	}
	r.subMu.Lock()
	s.Subscriptions = len(r.subs)
	r.subMu.Unlock()
	return s
}

func (r *consulRegistry) Destroy() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.stopTasks()
	if r.ownScheduler {
		r.scheduler.Close()
	}
	r.pool.Close()
	r.conn.Store(nil)
	r.setAvailable(context.Background(), false)
	if r.cache != nil {
		r.cache.InvalidateAll()
	}
	r.logger.Info("registry destroyed")
}

func (r *consulRegistry) observe(ctx context.Context, op string, err error) {
	r.ops.Inc(ctx, metrics.L(metrics.LabelOperation, op), metrics.L(metrics.LabelOutcome, metrics.Outcome(err)))
}

func addrStrings(addrs []consul.AgentAddress) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func countMap(m *sync.Map) int {
	n := 0
	m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func endpointsOf(m *sync.Map) []*Endpoint {
	var eps []*Endpoint
	m.Range(func(_, v any) bool {
		eps = append(eps, v.(*Endpoint))
		return true
	})
	return eps
}
