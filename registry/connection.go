package registry

import (
	"context"
	"math/rand/v2"

	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/metrics"
)

// checkConnection 确认当前 Agent 仍然响应，否则清除它并重连。
// 返回 nil 表示没有可用的 Agent。
func (r *consulRegistry) checkConnection(ctx context.Context) *connection {
	if ctx.Err() != nil {
		return nil
	}
	if c := r.conn.Load(); c != nil {
		_, err := c.client.ListMembers(ctx)
		if err == nil {
			return c
		}
		// 调用方取消不代表 Agent 故障
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("current agent probe failed",
			clog.String("agent", c.addr.String()), clog.Error(err))
		r.conn.CompareAndSwap(c, nil)
	}
	return r.reconnect(ctx)
}

// reconnect 在地址簿中寻找一个响应且成员列表非空的 Agent。
// 多个地址时从随机位置开始环形扫描，避免所有客户端集中到同一个 Agent。
func (r *consulRegistry) reconnect(ctx context.Context) *connection {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	if c := r.conn.Load(); c != nil {
		return c
	}
	if r.closed.Load() {
		return nil
	}

	addrs := r.book.Addresses()
	if len(addrs) == 0 {
		if _, err := r.book.Resolve(ctx); err != nil {
			r.logger.Warn("re-resolve seeds failed", clog.Error(err))
		}
		addrs = r.book.Addresses()
	}
	if len(addrs) == 0 {
		r.setAvailable(ctx, false)
		r.reconnects.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeError))
		return nil
	}

	start := 0
	if len(addrs) > 1 {
		start = rand.IntN(len(addrs))
	}

	var adopted *connection
	refresh := false
	for i := range addrs {
		addr := addrs[(start+i)%len(addrs)]
		client, err := r.pool.Get(addr)
		if err != nil {
			r.logger.Warn("get agent client failed", clog.String("agent", addr.String()), clog.Error(err))
			continue
		}
		members, err := client.ListMembers(ctx)
		if err != nil {
			r.logger.Warn("probe agent failed", clog.String("agent", addr.String()), clog.Error(err))
			continue
		}
		if len(members) == 0 {
			continue
		}
		if len(members) != len(addrs) {
			refresh = true
		}
		adopted = &connection{addr: addr, client: client}
		break
	}

	if adopted == nil && ctx.Err() != nil {
		return nil
	}
	if refresh {
		if _, err := r.book.Resolve(ctx, adopted.addr); err != nil {
			r.logger.Warn("refresh agent addresses failed", clog.Error(err))
		}
	}

	r.conn.Store(adopted)
	r.setAvailable(ctx, adopted != nil)
	if adopted == nil {
		r.reconnects.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeError))
		r.logger.Error("no responsive agent", clog.Strings("agents", addrStrings(addrs)))
		return nil
	}
	r.reconnects.Inc(ctx, metrics.L(metrics.LabelOutcome, metrics.OutcomeSuccess))
	r.logger.Info("connected to agent", clog.String("agent", adopted.addr.String()))
	return adopted
}

func (r *consulRegistry) setAvailable(ctx context.Context, ok bool) {
	r.available.Store(ok)
	v := 0.0
	if ok {
		v = 1
	}
	r.availGauge.Set(ctx, v)
}

// agentsFrom 返回所有已知 Agent 地址，当前 Agent 排在最前
func (r *consulRegistry) agentsFrom(current *connection) []*connection {
	var out []*connection
	if current != nil {
		out = append(out, current)
	}
	for _, addr := range r.book.Addresses() {
		if current != nil && addr == current.addr {
			continue
		}
		client, err := r.pool.Get(addr)
		if err != nil {
			r.logger.Warn("get agent client failed", clog.String("agent", addr.String()), clog.Error(err))
			continue
		}
		out = append(out, &connection{addr: addr, client: client})
	}
	return out
}
