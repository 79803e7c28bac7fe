package registry

import (
	"context"
	"fmt"
	"slices"

	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/consul"
	"github.com/ceyewan/consul-registry/xerrors"
)

// 操作名，用于日志与指标
const (
	opRegister    = "register"
	opUnregister  = "unregister"
	opLookup      = "lookup"
	opSubscribe   = "subscribe"
	opHeartbeat   = "heartbeat"
	opRetry       = "retry"
	opNotify      = "notify"
	opCheckExists = "check_exists"
)

func (r *consulRegistry) Register(ctx context.Context, ep *Endpoint) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	if ep == nil {
		return ErrInvalidEndpoint
	}
	_ = r.register(ctx, ep)
	return nil
}

// register 发送注册并维护确认/待重试集合，端点只会处于其中一个集合
func (r *consulRegistry) register(ctx context.Context, ep *Endpoint) error {
	key := ep.String()
	serviceKey := ep.ServiceKey(r.cfg.Group)

	conn := r.checkConnection(ctx)
	if conn == nil {
		r.markFailed(ep)
		err := xerrors.Transport(xerrors.Wrap(xerrors.ErrUnavailable, "no responsive agent"))
		r.observe(ctx, opRegister, err)
		r.logger.Warn("register deferred", clog.String("service_key", serviceKey), clog.Error(err))
		return err
	}

	checkID, err := conn.client.RegisterService(ctx, r.toRegistration(ep))
	r.observe(ctx, opRegister, err)
	if err != nil {
		r.markFailed(ep)
		r.logger.Error("register failed",
			clog.String("agent", conn.addr.String()),
			clog.String("service_key", serviceKey),
			clog.Error(err))
		return err
	}

	r.markConfirmed(ep, checkID)
	r.logger.Info("service registered",
		clog.String("agent", conn.addr.String()),
		clog.String("service_key", serviceKey),
		clog.String("endpoint", key))
	return nil
}

func (r *consulRegistry) markFailed(ep *Endpoint) {
	key := ep.String()
	r.confirmed.Delete(key)
	r.failed.Store(key, ep)
}

func (r *consulRegistry) markConfirmed(ep *Endpoint, checkID string) {
	key := ep.String()
	r.failed.Delete(key)
	r.confirmed.Store(key, ep)
	if checkID != "" {
		r.ttlChecks.Store(key, checkID)
	}
}

func (r *consulRegistry) Unregister(ctx context.Context, ep *Endpoint) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	if ep == nil {
		return ErrInvalidEndpoint
	}

	key := ep.String()
	r.confirmed.Delete(key)
	r.failed.Delete(key)
	r.ttlChecks.Delete(key)
	r.invalidate(ep)

	id := ep.ServiceKey(r.cfg.Group)
	name := ep.ServiceName(r.cfg.Group)
	pid := ep.Param(ParamPID)

	current := r.checkConnection(ctx)
	for _, agent := range r.agentsFrom(current) {
		inst, err := agent.client.FindInstanceByID(ctx, id, name, r.cfg.Datacenter, pid)
		if err != nil {
			r.logger.Warn("find instance failed",
				clog.String("agent", agent.addr.String()), clog.String("service_key", id), clog.Error(err))
			continue
		}
		if inst == nil {
			continue
		}
		if err := agent.client.DeregisterService(ctx, id); err != nil {
			r.logger.Warn("deregister failed",
				clog.String("agent", agent.addr.String()), clog.String("service_key", id), clog.Error(err))
			continue
		}
		r.observe(ctx, opUnregister, nil)
		r.logger.Info("service unregistered",
			clog.String("agent", agent.addr.String()), clog.String("service_key", id))
		return nil
	}

	r.observe(ctx, opUnregister, xerrors.ErrNotFound)
	r.logger.Warn("no agent holds the registration", clog.String("service_key", id))
	return nil
}

func (r *consulRegistry) Subscribe(ctx context.Context, ep *Endpoint, l NotifyListener) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	if ep == nil {
		return ErrInvalidEndpoint
	}
	if l == nil {
		return ErrInvalidListener
	}
	if ep.Protocol() == ProviderProtocol {
		r.logger.Debug("provider subscription ignored", clog.String("endpoint", ep.String()))
		return nil
	}

	key := ep.String()
	r.subMu.Lock()
	sub, ok := r.subs[key]
	if !ok {
		sub = &subscription{query: ep}
		r.subs[key] = sub
	}
	sub.add(l)
	listeners := slices.Clone(sub.listeners)
	r.subMu.Unlock()

	r.observe(ctx, opSubscribe, nil)
	r.logger.Info("subscribed", clog.String("service", ep.ServiceName(r.cfg.Group)), clog.Int("listeners", len(listeners)))

	r.deliver(ctx, ep, listeners)
	return nil
}

func (r *consulRegistry) Unsubscribe(ep *Endpoint, l NotifyListener) {
	if ep == nil || l == nil {
		return
	}
	key := ep.String()
	r.subMu.Lock()
	defer r.subMu.Unlock()
	sub, ok := r.subs[key]
	if !ok {
		return
	}
	sub.remove(l)
	if len(sub.listeners) == 0 {
		delete(r.subs, key)
	}
}

func (r *consulRegistry) Lookup(ctx context.Context, ep *Endpoint) []*Endpoint {
	if ep == nil || r.closed.Load() {
		return []*Endpoint{}
	}
	if r.cache != nil {
		if eps, ok := r.cache.GetIfPresent(r.cacheKey(ep)); ok {
			return slices.Clone(eps)
		}
	}
	return r.lookup(ctx, ep)
}

// lookup 直接查询 Agent，成功的非空结果会刷新缓存
func (r *consulRegistry) lookup(ctx context.Context, ep *Endpoint) []*Endpoint {
	name := ep.ServiceName(r.cfg.Group)

	conn := r.checkConnection(ctx)
	if conn == nil {
		r.observe(ctx, opLookup, xerrors.ErrUnavailable)
		return []*Endpoint{}
	}

	instances, err := conn.client.FindHealthyInstances(ctx, name, true, r.cfg.Datacenter)
	r.observe(ctx, opLookup, err)
	if err != nil {
		r.logger.Warn("lookup failed",
			clog.String("agent", conn.addr.String()),
			clog.String("service", name),
			clog.ErrorWithCode(err, xerrors.CodePartial))
		return []*Endpoint{}
	}

	eps := make([]*Endpoint, 0, len(instances))
	for _, inst := range instances {
		eps = append(eps, fromInstance(inst))
	}
	if r.cache != nil && len(eps) > 0 {
		r.cache.Set(r.cacheKey(ep), slices.Clone(eps))
	}
	return eps
}

func (r *consulRegistry) cacheKey(ep *Endpoint) string {
	return r.cfg.Datacenter + "/" + ep.ServiceName(r.cfg.Group)
}

func (r *consulRegistry) invalidate(ep *Endpoint) {
	if r.cache != nil {
		r.cache.Invalidate(r.cacheKey(ep))
	}
}

// deliver 将最新快照投递给监听器，空结果不投递
func (r *consulRegistry) deliver(ctx context.Context, query *Endpoint, listeners []NotifyListener) {
	if len(listeners) == 0 {
		return
	}
	eps := r.lookup(ctx, query)
	if len(eps) == 0 {
		return
	}
	for _, l := range listeners {
		r.guard(opNotify, query, func() {
			l.Notify(query, slices.Clone(eps))
		})
	}
}

// guard 执行单个条目的处理，panic 只记录日志
func (r *consulRegistry) guard(op string, ep *Endpoint, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("recovered from panic",
				clog.String("operation", op),
				clog.String("endpoint", ep.String()),
				clog.String("panic", fmt.Sprint(p)))
		}
	}()
	fn()
}

func (r *consulRegistry) ttlCheckIDs() []string {
	var ids []string
	r.ttlChecks.Range(func(_, v any) bool {
		ids = append(ids, v.(string))
		return true
	})
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (r *consulRegistry) toRegistration(ep *Endpoint) *consul.Registration {
	return &consul.Registration{
		ID:       ep.ServiceKey(r.cfg.Group),
		Name:     ep.ServiceName(r.cfg.Group),
		Protocol: ep.Protocol(),
		Host:     ep.Host(),
		Port:     ep.Port(),
		Path:     ep.Path(),
		Username: ep.Username(),
		Password: ep.Password(),
		Params:   ep.Params(),
	}
}

func fromInstance(inst *consul.Instance) *Endpoint {
	host := inst.Host
	if host == "" {
		host = inst.Address
	}
	return newEndpoint(inst.Protocol, inst.Username, inst.Password, host, inst.Port, inst.Path, inst.Params)
}
