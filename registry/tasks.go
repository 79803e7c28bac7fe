package registry

import (
	"context"
	"slices"

	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/consul"
	"github.com/ceyewan/consul-registry/xerrors"
)

// retry 检查所有待重试和已确认的端点，不在 Consul 中的重新注册
func (r *consulRegistry) retry(ctx context.Context) error {
	eps := append(endpointsOf(&r.failed), endpointsOf(&r.confirmed)...)
	if len(eps) == 0 {
		return nil
	}

	conn := r.checkConnection(ctx)
	if conn == nil {
		return xerrors.Transport(xerrors.Wrap(xerrors.ErrUnavailable, "retry registrations"))
	}

	seen := make(map[string]struct{}, len(eps))
	for _, ep := range eps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		key := ep.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		r.guard(opRetry, ep, func() {
			r.retryOne(ctx, conn, ep)
		})
	}
	return nil
}

func (r *consulRegistry) retryOne(ctx context.Context, conn *connection, ep *Endpoint) {
	id := ep.ServiceKey(r.cfg.Group)
	inst, err := conn.client.FindInstanceByID(ctx, id, ep.ServiceName(r.cfg.Group), r.cfg.Datacenter, ep.Param(ParamPID))
	r.observe(ctx, opCheckExists, err)
	if err != nil {
		r.logger.Warn("check registration failed",
			clog.String("agent", conn.addr.String()), clog.String("service_key", id), clog.Error(err))
		return
	}

	// 端点可能在检查期间被注销
	key := ep.String()
	_, pending := r.failed.Load(key)
	_, confirmed := r.confirmed.Load(key)
	if !pending && !confirmed {
		return
	}

	if inst != nil {
		if pending {
			checkID := ""
			if !ep.IsProvider() {
				checkID = consul.TTLCheckID(id)
			}
			r.markConfirmed(ep, checkID)
		}
		return
	}

	r.logger.Info("registration missing, re-registering", clog.String("service_key", id))
	_ = r.register(ctx, ep)
}

// checkSubscriptions 为每个订阅投递最新快照
func (r *consulRegistry) checkSubscriptions(ctx context.Context) error {
	r.subMu.Lock()
	subs := make([]subscription, 0, len(r.subs))
	for _, s := range r.subs {
		if len(s.listeners) == 0 {
			continue
		}
		subs = append(subs, subscription{query: s.query, listeners: slices.Clone(s.listeners)})
	}
	r.subMu.Unlock()

	for _, s := range subs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.guard(opLookup, s.query, func() {
			r.deliver(ctx, s.query, s.listeners)
		})
	}
	return nil
}

// heartbeat 为所有 TTL 检查发送心跳，单个失败不影响其他检查
func (r *consulRegistry) heartbeat(ctx context.Context) error {
	ids := r.ttlCheckIDs()
	if len(ids) == 0 {
		return nil
	}

	conn := r.checkConnection(ctx)
	if conn == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return xerrors.Transport(xerrors.Wrap(xerrors.ErrUnavailable, "ttl heartbeat"))
	}

	var failed int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := conn.client.Heartbeat(ctx, id)
		r.observe(ctx, opHeartbeat, err)
		if err != nil {
			failed++
			r.logger.Warn("heartbeat failed",
				clog.String("agent", conn.addr.String()), clog.String("check_id", id), clog.Error(err))
		}
	}
	if failed > 0 {
		r.logger.Debug("heartbeat round finished", clog.Int("checks", len(ids)), clog.Int("failed", failed))
	}
	return nil
}
