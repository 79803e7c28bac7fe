package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/consul-registry/registry"
	"github.com/ceyewan/consul-registry/testkit"
)

type fakeSource struct {
	available bool
	status    registry.Status
}

func (f *fakeSource) IsAvailable() bool       { return f.available }
func (f *fakeSource) Status() registry.Status { return f.status }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.9:5555"
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	src := &fakeSource{available: true}
	s, err := New(nil, src)
	require.NoError(t, err)

	w := get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	src.available = false
	w = get(t, s.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatus(t *testing.T) {
	src := &fakeSource{available: true, status: registry.Status{
		Available:    true,
		CurrentAgent: "10.0.0.1:8500",
		Agents:       []string{"10.0.0.1:8500", "10.0.0.2:8500"},
		Registered:   2,
		TTLChecks:    1,
	}}
	s, err := New(&Config{}, src)
	require.NoError(t, err)

	w := get(t, s.Handler(), "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var got registry.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, src.status, got)
}

func TestMetricsEndpoint(t *testing.T) {
	meter := testkit.NewMeter()
	t.Cleanup(func() { _ = meter.Shutdown(context.Background()) })
	s, err := New(nil, &fakeSource{available: true}, WithMeter(meter), WithLogger(testkit.NewLogger()))
	require.NoError(t, err)

	get(t, s.Handler(), "/healthz")
	w := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Regexp(t, `http_server_requests_total\{[^}]*route="/healthz"`, w.Body.String())
}

func TestRateLimit(t *testing.T) {
	s, err := New(&Config{RateLimit: 1, RateBurst: 2}, &fakeSource{available: true})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), "/healthz").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, s.Handler(), "/healthz").Code)
}

type manualClock struct {
	now atomic.Int64
}

func newManualClock() *manualClock {
	c := &manualClock{}
	c.now.Store(time.Now().UnixNano())
	return c
}

func (c *manualClock) NowNano() int64                         { return c.now.Load() }
func (c *manualClock) Tick(d time.Duration) <-chan time.Time { return time.Tick(d) }
func (c *manualClock) Advance(d time.Duration)               { c.now.Add(int64(d)) }

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	clock := newManualClock()
	// 令牌几乎不恢复，再次放行只能来自新的限流器
	l, err := newClientLimiter(0.001, 1, time.Minute, clock)
	require.NoError(t, err)

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))

	clock.Advance(30 * time.Second)
	assert.False(t, l.allow("10.0.0.1"))

	clock.Advance(2 * time.Minute)
	assert.True(t, l.allow("10.0.0.1"))
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestServeAndShutdown(t *testing.T) {
	s, err := New(nil, &fakeSource{available: true})
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-errCh)
}
