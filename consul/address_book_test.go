package consul_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/consul-registry/consul"
	"github.com/ceyewan/consul-registry/testkit"
	"github.com/ceyewan/consul-registry/xerrors"
)

func newBook(t *testing.T, cluster *testkit.ConsulCluster, seeds ...consul.AgentAddress) *consul.AddressBook {
	t.Helper()
	pool := consul.NewPool(nil, consul.WithLogger(testkit.NewLogger()), consul.WithMemberResolver(cluster.Resolver()))
	t.Cleanup(pool.Close)
	return consul.NewAddressBook(pool, seeds)
}

func TestAddressBookResolve(t *testing.T) {
	cluster := testkit.NewConsulCluster(t, 3)
	book := newBook(t, cluster, cluster.Agent(0).Address)
	assert.Equal(t, 0, book.Len())

	n, err := book.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, cluster.Addresses(), book.Addresses())
}

func TestAddressBookSkipsBadSeed(t *testing.T) {
	cluster := testkit.NewConsulCluster(t, 2)
	bad := consul.AgentAddress{Host: "127.0.0.1", Port: 1}
	cluster.Agent(0).Down()

	book := newBook(t, cluster, bad, cluster.Agent(0).Address, cluster.Agent(1).Address)
	n, err := book.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []consul.AgentAddress{cluster.Agent(1).Address}, book.Addresses())
}

func TestAddressBookAllSeedsFail(t *testing.T) {
	cluster := testkit.NewConsulCluster(t, 1)
	book := newBook(t, cluster, cluster.Agent(0).Address)
	_, err := book.Resolve(context.Background())
	require.NoError(t, err)

	cluster.Agent(0).Down()
	n, err := book.Resolve(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, consul.ErrNoAliveMember)
	assert.Equal(t, xerrors.CodePartial, xerrors.GetCode(err))
	// 全部失败时保留上一次的视图
	assert.Equal(t, 1, n)
	assert.Equal(t, []consul.AgentAddress{cluster.Agent(0).Address}, book.Addresses())
}

func TestAddressBookResolveVia(t *testing.T) {
	cluster := testkit.NewConsulCluster(t, 3)
	book := newBook(t, cluster, cluster.Agent(0).Address)
	_, err := book.Resolve(context.Background())
	require.NoError(t, err)

	cluster.Agent(0).Down()
	n, err := book.Resolve(context.Background(), cluster.Agent(1).Address)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []consul.AgentAddress{cluster.Agent(1).Address, cluster.Agent(2).Address}, book.Addresses())
}

func TestAddressBookReplaceIsCopyOnWrite(t *testing.T) {
	cluster := testkit.NewConsulCluster(t, 1)
	book := newBook(t, cluster, cluster.Agent(0).Address)

	a := consul.AgentAddress{Host: "10.0.0.1", Port: 8500}
	b := consul.AgentAddress{Host: "10.0.0.2", Port: 8500}
	book.Replace([]consul.AgentAddress{b, a, b})
	snapshot := book.Addresses()
	assert.Equal(t, []consul.AgentAddress{a, b}, snapshot)

	snapshot[0] = consul.AgentAddress{Host: "mutated"}
	assert.Equal(t, []consul.AgentAddress{a, b}, book.Addresses())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			book.Replace([]consul.AgentAddress{a, b})
		}()
		go func() {
			defer wg.Done()
			got := book.Addresses()
			assert.Len(t, got, 2)
		}()
	}
	wg.Wait()
}

func TestPoolReusesClients(t *testing.T) {
	pool := consul.NewPool(nil)
	addr := consul.AgentAddress{Host: "127.0.0.1", Port: 8500}

	c1, err := pool.Get(addr)
	require.NoError(t, err)
	c2, err := pool.Get(addr)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Equal(t, addr, c1.Address())

	pool.Close()
	_, err = pool.Get(addr)
	assert.ErrorIs(t, err, consul.ErrClientClosed)
}
