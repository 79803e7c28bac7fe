package registry_test

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/resolver"

	"github.com/ceyewan/consul-registry/registry"
	"github.com/ceyewan/consul-registry/testkit"
)

type fakeClientConn struct {
	resolver.ClientConn

	mu     sync.Mutex
	states []resolver.State
	errs   []error
}

func (f *fakeClientConn) UpdateState(s resolver.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, s)
	return nil
}

func (f *fakeClientConn) ReportError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *fakeClientConn) addrs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return nil
	}
	var out []string
	for _, a := range f.states[len(f.states)-1].Addresses {
		out = append(out, a.Addr)
	}
	return out
}

func (f *fakeClientConn) updates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}

func buildResolver(t *testing.T, reg registry.Registry, target string) (resolver.Resolver, *fakeClientConn) {
	t.Helper()
	u, err := url.Parse(target)
	require.NoError(t, err)
	cc := &fakeClientConn{}
	b := registry.NewResolverBuilder(reg, "", testkit.NewLogger())
	assert.Equal(t, registry.DefaultScheme, b.Scheme())
	r, err := b.Build(resolver.Target{URL: *u}, cc, resolver.BuildOptions{})
	require.NoError(t, err)
	return r, cc
}

func TestResolverFollowsSubscription(t *testing.T) {
	cluster := testkit.NewConsulCluster(t, 1)
	reg := newRegistry(t, cluster, nil)
	ctx := context.Background()
	require.NoError(t, reg.Register(ctx, registry.MustParseEndpoint(fooProvider)))

	r, cc := buildResolver(t, reg, "consul:///com.x.Foo?version=1.0")
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"10.0.0.1:20880"}, cc.addrs())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, reg.Register(ctx, registry.MustParseEndpoint("dubbo://10.0.0.3:20880/com.x.Foo?version=1.0")))
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"10.0.0.1:20880", "10.0.0.3:20880"}, cc.addrs())
	}, 2*time.Second, 10*time.Millisecond)

	// 相同的快照不会重复推送
	n := cc.updates()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, n, cc.updates())

	r.ResolveNow(resolver.ResolveNowOptions{})
	r.Close()
	assert.Eventually(t, func() bool {
		return reg.Status().Subscriptions == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResolverIgnoresOtherVersions(t *testing.T) {
	cluster := testkit.NewConsulCluster(t, 1)
	reg := newRegistry(t, cluster, nil)
	require.NoError(t, reg.Register(context.Background(), registry.MustParseEndpoint(fooProvider)))

	r, cc := buildResolver(t, reg, "consul:///com.x.Foo?version=2.0")
	defer r.Close()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, cc.updates())
}

func TestResolverRejectsEmptyTarget(t *testing.T) {
	cluster := testkit.NewConsulCluster(t, 1)
	reg := newRegistry(t, cluster, nil)

	u, err := url.Parse("consul:///")
	require.NoError(t, err)
	_, err = registry.NewResolverBuilder(reg, "", nil).Build(resolver.Target{URL: *u}, &fakeClientConn{}, resolver.BuildOptions{})
	assert.ErrorIs(t, err, registry.ErrInvalidEndpoint)
}

func TestResolverReportsClosedRegistry(t *testing.T) {
	cluster := testkit.NewConsulCluster(t, 1)
	reg := newRegistry(t, cluster, nil)
	reg.Destroy()

	_, cc := buildResolver(t, reg, "consul:///com.x.Foo")
	assert.Eventually(t, func() bool {
		cc.mu.Lock()
		defer cc.mu.Unlock()
		return len(cc.errs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientConnThroughRegistry(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	port := lis.Addr().(*net.TCPAddr).Port
	cluster := testkit.NewConsulCluster(t, 1)
	reg := newRegistry(t, cluster, nil)
	ep := registry.MustParseEndpoint("grpc://127.0.0.1:" + strconv.Itoa(port) + "/grpc.health.v1.Health?version=1.0")
	require.NoError(t, reg.Register(context.Background(), ep))

	conn, err := registry.NewClientConn(reg, "consul:///grpc.health.v1.Health?version=1.0",
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx := testkit.NewContext(t, 5*time.Second)
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{}, grpc.WaitForReady(true))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
