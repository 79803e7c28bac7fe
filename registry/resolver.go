package registry

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/resolver"

	"github.com/ceyewan/consul-registry/clog"
)

// DefaultScheme gRPC 目标的默认 scheme，目标形如 consul:///com.x.Foo?version=1.0
const DefaultScheme = "consul"

// resolveTimeout ResolveNow 触发的单次查询超时
const resolveTimeout = 5 * time.Second

// resolverBuilder 实现 gRPC resolver.Builder，地址来自订阅
type resolverBuilder struct {
	registry Registry
	scheme   string
	logger   clog.Logger
}

// NewResolverBuilder 创建 resolver builder，scheme 为空时使用 DefaultScheme
func NewResolverBuilder(reg Registry, scheme string, logger clog.Logger) resolver.Builder {
	if scheme == "" {
		scheme = DefaultScheme
	}
	if logger == nil {
		logger = clog.Discard()
	}
	return &resolverBuilder{
		registry: reg,
		scheme:   scheme,
		logger:   logger.WithNamespace("resolver"),
	}
}

// NewClientConn 创建通过 Registry 解析地址的 gRPC 连接，target 形如 consul:///com.x.Foo?version=1.0
func NewClientConn(reg Registry, target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append(opts, grpc.WithResolvers(NewResolverBuilder(reg, DefaultScheme, nil)))
	return grpc.NewClient(target, opts...)
}

// Build 创建 resolver
func (b *resolverBuilder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	iface := strings.TrimPrefix(target.URL.Path, "/")
	if iface == "" {
		iface = target.Endpoint()
	}
	if iface == "" {
		return nil, ErrInvalidEndpoint
	}

	params := make(map[string]string)
	for k, v := range target.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	r := &consulResolver{
		registry: b.registry,
		query:    NewEndpoint(ConsumerProtocol, "", 0, iface, params),
		cc:       cc,
		logger:   b.logger.With(clog.String("interface", iface)),
	}
	r.listener = NewListener(r.update)

	// 订阅会同步投递首个快照，放到后台避免在 Build 中回调 ClientConn
	go r.start()

	return r, nil
}

// Scheme 返回 scheme
func (b *resolverBuilder) Scheme() string {
	return b.scheme
}

// consulResolver 实现 gRPC resolver.Resolver
type consulResolver struct {
	registry Registry
	query    *Endpoint
	cc       resolver.ClientConn
	listener NotifyListener
	logger   clog.Logger

	mu     sync.Mutex
	last   []string
	closed bool
}

func (r *consulResolver) start() {
	if err := r.registry.Subscribe(context.Background(), r.query, r.listener); err != nil {
		r.logger.Error("failed to subscribe for resolver", clog.Error(err))
		r.cc.ReportError(err)
		return
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		r.registry.Unsubscribe(r.query, r.listener)
	}
}

// update 推送地址到 gRPC，与上次相同时跳过
func (r *consulResolver) update(_ *Endpoint, eps []*Endpoint) {
	addrs := make([]string, 0, len(eps))
	for _, ep := range eps {
		if ep.Port() > 0 {
			addrs = append(addrs, ep.Address())
		}
	}
	slices.Sort(addrs)
	addrs = slices.Compact(addrs)

	r.mu.Lock()
	defer r.mu.Unlock()

	// 空列表不更新，保留旧状态直到有新地址可用
	if r.closed || len(addrs) == 0 || slices.Equal(addrs, r.last) {
		return
	}
	r.last = addrs

	state := resolver.State{Addresses: make([]resolver.Address, len(addrs))}
	for i, a := range addrs {
		state.Addresses[i] = resolver.Address{Addr: a, ServerName: r.query.Interface()}
	}
	if err := r.cc.UpdateState(state); err != nil {
		r.logger.Warn("failed to update resolver state", clog.Error(err))
		return
	}
	r.logger.Debug("resolver state updated", clog.Strings("addresses", addrs))
}

// ResolveNow 立即查询一次
func (r *consulResolver) ResolveNow(resolver.ResolveNowOptions) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()
		r.update(r.query, r.registry.Lookup(ctx, r.query))
	}()
}

// Close 关闭 resolver
func (r *consulResolver) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.registry.Unsubscribe(r.query, r.listener)
}
