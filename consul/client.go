// Package consul 是面向单个 Consul Agent 的轻量客户端，以及基于成员查询的集群地址簿。
//
// Client 只做一件事：把注册中心的语义翻译成 Agent HTTP API 调用。
// 所有失败都以 TRANSPORT 错误码返回，由上层决定重连与重试。
package consul

import (
	"context"
	"net/http"
	"slices"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/consul-registry/breaker"
	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/metrics"
	"github.com/ceyewan/consul-registry/xerrors"
)

// MetricCallDuration Agent 调用耗时
const MetricCallDuration = "registry_backend_call_duration_seconds"

const tracerName = "github.com/ceyewan/consul-registry/consul"

// Registration 一次服务注册
type Registration struct {
	ID       string // 服务实例 ID（service key）
	Name     string // 服务名
	Protocol string
	Host     string
	Port     int // 0 表示消费者，使用 TTL 检查
	Path     string
	Username string
	Password string
	Params   map[string]string
}

// Instance 健康查询返回的服务实例
type Instance struct {
	ID       string
	Name     string
	Node     string
	Address  string
	Port     int
	Protocol string
	Username string
	Password string
	Host     string
	Path     string
	Tags     []string
	Params   map[string]string // 已还原 "." 的元数据
}

// Client 单个 Agent 的客户端，可并发使用
type Client struct {
	addr    AgentAddress
	api     *consulapi.Client
	cfg     ClientConfig
	logger  clog.Logger
	breaker breaker.Breaker
	calls   metrics.Histogram
	tracer  trace.Tracer
}

// NewClient 创建指定 Agent 的客户端，cfg 为 nil 时使用默认配置
func NewClient(addr AgentAddress, cfg *ClientConfig, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newClient(addr, cfg, o)
}

func newClient(addr AgentAddress, cfg *ClientConfig, o *options) (*Client, error) {
	c := ClientConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.validate()

	api, err := consulapi.NewClient(&consulapi.Config{
		Address:    addr.String(),
		Scheme:     c.Scheme,
		Token:      c.Token,
		HttpClient: &http.Client{Timeout: c.RequestTimeout},
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "create consul client for %s", addr)
	}

	calls, err := o.meter.Histogram(MetricCallDuration, "Consul agent call duration",
		metrics.WithUnit("s"), metrics.WithBuckets([]float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}))
	if err != nil {
		return nil, err
	}

	return &Client{
		addr:    addr,
		api:     api,
		cfg:     c,
		logger:  o.logger.With(clog.String("agent", addr.String())),
		breaker: o.breaker,
		calls:   calls,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Address 返回 Agent 地址
func (c *Client) Address() AgentAddress {
	return c.addr
}

// ListMembers 返回 Agent 视角下的存活成员
func (c *Client) ListMembers(ctx context.Context) ([]Member, error) {
	var members []Member
	err := c.do(ctx, "members", func(ctx context.Context) error {
		// Agent().Members 不接受 context，直接查询同一端点
		var raw []*consulapi.AgentMember
		if _, err := c.api.Raw().Query("/v1/agent/members", &raw, (&consulapi.QueryOptions{}).WithContext(ctx)); err != nil {
			return err
		}
		members = make([]Member, 0, len(raw))
		for _, m := range raw {
			if m == nil || m.Status != MemberStatusAlive {
				continue
			}
			members = append(members, Member{Name: m.Name, Addr: m.Addr, Port: int(m.Port), Status: m.Status})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// RegisterService 注册服务实例。监听端口的实例附带 TCP 检查；
// 端口为 0 的实例附带 TTL 检查，返回需要定期心跳的检查 ID。
func (c *Client) RegisterService(ctx context.Context, r *Registration) (string, error) {
	if r == nil || r.ID == "" || r.Name == "" {
		return "", ErrInvalidRegistration
	}

	for k := range r.Params {
		if LossyMetaKey(k) {
			c.logger.Warn("parameter key will not round-trip through service meta",
				clog.String("service_id", r.ID), clog.String("key", k))
		}
	}

	reg := &consulapi.AgentServiceRegistration{
		ID:      r.ID,
		Name:    r.Name,
		Tags:    buildTags(r),
		Port:    r.Port,
		Address: r.Host,
		Meta:    EscapeMeta(r.Params),
	}

	var ttlCheckID string
	check := &consulapi.AgentServiceCheck{Status: consulapi.HealthPassing}
	if r.Port > 0 {
		check.TCP = AgentAddress{Host: r.Host, Port: r.Port}.String()
		check.Interval = c.cfg.CheckInterval.String()
		check.Timeout = c.cfg.CheckTimeout.String()
	} else {
		check.TTL = c.cfg.TTL.String()
		ttlCheckID = TTLCheckID(r.ID)
	}
	if c.cfg.DeregisterCriticalAfter > 0 {
		check.DeregisterCriticalServiceAfter = c.cfg.DeregisterCriticalAfter.String()
	}
	reg.Check = check

	err := c.do(ctx, "register", func(ctx context.Context) error {
		return c.api.Agent().ServiceRegisterOpts(reg, consulapi.ServiceRegisterOpts{}.WithContext(ctx))
	})
	if err != nil {
		return "", err
	}
	return ttlCheckID, nil
}

// DeregisterService 注销服务实例
func (c *Client) DeregisterService(ctx context.Context, id string) error {
	return c.do(ctx, "deregister", func(ctx context.Context) error {
		return c.api.Agent().ServiceDeregisterOpts(id, (&consulapi.QueryOptions{}).WithContext(ctx))
	})
}

// FindHealthyInstances 查询带 provider 标签的实例，dc 为空时使用 Agent 所在数据中心
func (c *Client) FindHealthyInstances(ctx context.Context, name string, passingOnly bool, dc string) ([]*Instance, error) {
	return c.queryHealth(ctx, name, TagProvider, passingOnly, dc)
}

func (c *Client) queryHealth(ctx context.Context, name, tag string, passingOnly bool, dc string) ([]*Instance, error) {
	var instances []*Instance
	err := c.do(ctx, "health", func(ctx context.Context) error {
		q := (&consulapi.QueryOptions{Datacenter: dc}).WithContext(ctx)
		entries, _, err := c.api.Health().Service(name, tag, passingOnly, q)
		if err != nil {
			return err
		}
		instances = make([]*Instance, 0, len(entries))
		for _, e := range entries {
			if inst := toInstance(e); inst != nil {
				instances = append(instances, inst)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// FindInstanceByID 判断实例是否仍然存在，不论其角色和健康状态。
// 不存在时返回 (nil, nil)；pid 非空时还要求实例元数据中的 pid 一致。
func (c *Client) FindInstanceByID(ctx context.Context, id, name, dc, pid string) (*Instance, error) {
	instances, err := c.queryHealth(ctx, name, "", false, dc)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(instances, func(inst *Instance) bool {
		return inst.ID == id && (pid == "" || inst.Params["pid"] == pid)
	})
	if idx < 0 {
		return nil, nil
	}
	return instances[idx], nil
}

// Heartbeat 将 TTL 检查标记为 passing
func (c *Client) Heartbeat(ctx context.Context, checkID string) error {
	return c.do(ctx, "heartbeat", func(ctx context.Context) error {
		return c.api.Agent().UpdateTTLOpts(checkID, "", consulapi.HealthPassing, (&consulapi.QueryOptions{}).WithContext(ctx))
	})
}

func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "consul."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("consul.agent", c.addr.String())))
	defer span.End()

	start := time.Now()
	var err error
	if c.breaker != nil {
		ran := false
		_, err = c.breaker.Execute(ctx, c.addr.String(), func() (any, error) {
			ran = true
			return nil, fn(ctx)
		})
		// 熔断拒绝的调用没有到达 Agent，即使降级函数返回 nil 也按失败处理
		if err == nil && !ran {
			err = xerrors.Wrapf(breaker.ErrOpenState, "key %s", c.addr)
		}
	} else {
		err = fn(ctx)
	}
	c.calls.Record(ctx, time.Since(start).Seconds(),
		metrics.L(metrics.LabelOperation, op), metrics.L(metrics.LabelOutcome, metrics.Outcome(err)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return xerrors.Transport(xerrors.Wrapf(err, "consul %s on %s", op, c.addr))
	}
	return nil
}

func toInstance(e *consulapi.ServiceEntry) *Instance {
	if e == nil || e.Service == nil {
		return nil
	}
	s := e.Service
	inst := &Instance{
		ID:      s.ID,
		Name:    s.Service,
		Address: s.Address,
		Port:    s.Port,
		Tags:    slices.Clone(s.Tags),
		Params:  UnescapeMeta(s.Meta),
	}
	if e.Node != nil {
		inst.Node = e.Node.Node
		if inst.Address == "" {
			inst.Address = e.Node.Address
		}
	}
	applyTags(inst, s.Tags)
	if inst.Host == "" {
		inst.Host = inst.Address
	}
	return inst
}
