package consul

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/xerrors"
)

// AddressBook 当前被认为存活的 Agent 地址集合。
// 地址列表整体替换，并发读者只会看到替换前或替换后的完整列表。
type AddressBook struct {
	pool   *Pool
	logger clog.Logger
	seeds  []AgentAddress

	addrs     atomic.Pointer[[]AgentAddress]
	resolveMu sync.Mutex
}

// NewAddressBook 创建地址簿，seeds 为配置的种子地址。此时列表为空，需调用 Resolve。
func NewAddressBook(pool *Pool, seeds []AgentAddress) *AddressBook {
	b := &AddressBook{
		pool:   pool,
		logger: pool.Logger(),
		seeds:  dedupe(seeds),
	}
	empty := []AgentAddress{}
	b.addrs.Store(&empty)
	return b
}

// Seeds 返回种子地址
func (b *AddressBook) Seeds() []AgentAddress {
	return slices.Clone(b.seeds)
}

// Addresses 返回当前地址列表的快照，调用方可以随意修改
func (b *AddressBook) Addresses() []AgentAddress {
	return slices.Clone(*b.addrs.Load())
}

// Len 返回当前地址数量
func (b *AddressBook) Len() int {
	return len(*b.addrs.Load())
}

// Replace 整体替换地址列表
func (b *AddressBook) Replace(addrs []AgentAddress) {
	next := dedupe(addrs)
	b.addrs.Store(&next)
}

// Resolve 并发查询种子以及 via 指定的 Agent 的成员视图，取并集后整体替换地址列表。
// 单个来源失败只记录日志，不影响其他来源；全部失败时保留上一次的列表并返回 PARTIAL 错误。
// 返回当前地址数量。
func (b *AddressBook) Resolve(ctx context.Context, via ...AgentAddress) (int, error) {
	b.resolveMu.Lock()
	defer b.resolveMu.Unlock()

	sources := dedupe(append(slices.Clone(b.seeds), via...))
	results := make([][]AgentAddress, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			addrs, err := b.membersOf(gctx, src)
			if err != nil {
				b.logger.Warn("resolve agent members failed", clog.String("source", src.String()), clog.Error(err))
				return nil
			}
			results[i] = addrs
			return nil
		})
	}
	_ = g.Wait()

	var all []AgentAddress
	for _, r := range results {
		all = append(all, r...)
	}
	if len(all) == 0 {
		if err := ctx.Err(); err != nil {
			return b.Len(), err
		}
		return b.Len(), xerrors.WithCode(xerrors.Wrap(ErrNoAliveMember, "resolve agent addresses"), xerrors.CodePartial)
	}

	b.Replace(all)
	b.logger.Info("agent addresses resolved", clog.Int("agents", b.Len()))
	return b.Len(), nil
}

func (b *AddressBook) membersOf(ctx context.Context, seed AgentAddress) ([]AgentAddress, error) {
	c, err := b.pool.Get(seed)
	if err != nil {
		return nil, err
	}
	members, err := c.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	resolve := b.pool.Resolver()
	addrs := make([]AgentAddress, 0, len(members))
	for _, m := range members {
		addrs = append(addrs, resolve(m, seed))
	}
	return addrs, nil
}
