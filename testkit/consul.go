package testkit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	consulapi "github.com/hashicorp/consul/api"

	"github.com/ceyewan/consul-registry/consul"
)

// ConsulDatacenter 替身集群所在的数据中心
const ConsulDatacenter = "dc1"

// ConsulCluster 进程内的 Consul 集群替身。
// 多个 Agent 共享一份服务目录，服务归属于注册它的 Agent，只能从该 Agent 注销。
// 只实现注册中心客户端用到的 Agent HTTP API。
type ConsulCluster struct {
	mu            sync.Mutex
	agents        []*FakeAgent
	services      map[string]*fakeService
	registerCalls map[string]int
	heartbeats    map[string]int
	healthQueries []url.Values
	t             testing.TB
}

type fakeService struct {
	reg    consulapi.AgentServiceRegistration
	agent  string
	status string
}

// FakeAgent 集群中的一个 Agent
type FakeAgent struct {
	Name     string
	Address  consul.AgentAddress
	server   *httptest.Server
	cluster  *ConsulCluster
	down     atomic.Bool
	requests atomic.Int64
}

// NewConsulCluster 启动 n 个 Agent，测试结束时自动关闭
func NewConsulCluster(t testing.TB, n int) *ConsulCluster {
	t.Helper()
	c := &ConsulCluster{
		services:      make(map[string]*fakeService),
		registerCalls: make(map[string]int),
		heartbeats:    make(map[string]int),
		t:             t,
	}
	for i := 0; i < n; i++ {
		c.AddAgent()
	}
	return c
}

// AddAgent 向集群加入一个新的 Agent
func (c *ConsulCluster) AddAgent() *FakeAgent {
	c.mu.Lock()
	a := &FakeAgent{Name: fmt.Sprintf("agent-%d", len(c.agents)), cluster: c}
	c.agents = append(c.agents, a)
	c.mu.Unlock()

	a.server = httptest.NewServer(a.handler())
	c.t.Cleanup(a.server.Close)

	u, err := url.Parse(a.server.URL)
	if err != nil {
		c.t.Fatalf("parse fake agent url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	a.Address = consul.AgentAddress{Host: u.Hostname(), Port: port}
	return a
}

// Agent 返回第 i 个 Agent
func (c *ConsulCluster) Agent(i int) *FakeAgent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agents[i]
}

// Addresses 返回所有 Agent 的地址
func (c *ConsulCluster) Addresses() []consul.AgentAddress {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]consul.AgentAddress, len(c.agents))
	for i, a := range c.agents {
		out[i] = a.Address
	}
	return out
}

// SeedAddress 返回逗号分隔的全部 Agent 地址，可直接作为注册中心地址
func (c *ConsulCluster) SeedAddress() string {
	addrs := c.Addresses()
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

// Resolver 按成员名称映射到替身 Agent 的 HTTP 地址
func (c *ConsulCluster) Resolver() consul.MemberResolver {
	return func(m consul.Member, seed consul.AgentAddress) consul.AgentAddress {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, a := range c.agents {
			if a.Name == m.Name {
				return a.Address
			}
		}
		return seed
	}
}

// Services 返回目录中全部服务实例 ID，已排序
func (c *ConsulCluster) Services() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.services))
	for id := range c.services {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Service 返回服务实例的注册内容
func (c *ConsulCluster) Service(id string) (consulapi.AgentServiceRegistration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.services[id]
	if !ok {
		return consulapi.AgentServiceRegistration{}, false
	}
	return s.reg, true
}

// ServiceAgent 返回服务实例所属的 Agent 名称
func (c *ConsulCluster) ServiceAgent(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.services[id]; ok {
		return s.agent
	}
	return ""
}

// Deregister 绕过 Agent 直接从目录删除实例，模拟 TTL 过期或 Agent 重启
func (c *ConsulCluster) Deregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.services, id)
}

// SetStatus 修改实例的检查状态
func (c *ConsulCluster) SetStatus(id, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.services[id]; ok {
		s.status = status
	}
}

// RegisterCalls 返回实例被注册的次数
func (c *ConsulCluster) RegisterCalls(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registerCalls[id]
}

// Heartbeats 返回检查收到的心跳次数
func (c *ConsulCluster) Heartbeats(checkID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeats[checkID]
}

// HealthQueries 返回健康查询的查询参数
func (c *ConsulCluster) HealthQueries() []url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.healthQueries)
}

// Down 使 Agent 对所有请求返回 500，并在其他 Agent 的成员视图中标记为 failed
func (a *FakeAgent) Down() { a.down.Store(true) }

// Up 恢复 Agent
func (a *FakeAgent) Up() { a.down.Store(false) }

// Requests 返回 Agent 收到的请求数
func (a *FakeAgent) Requests() int64 { return a.requests.Load() }

func (a *FakeAgent) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/agent/members", a.members)
	mux.HandleFunc("PUT /v1/agent/service/register", a.register)
	mux.HandleFunc("PUT /v1/agent/service/deregister/{id...}", a.deregister)
	mux.HandleFunc("GET /v1/health/service/{name...}", a.health)
	mux.HandleFunc("PUT /v1/agent/check/pass/{id...}", a.pass)
	mux.HandleFunc("PUT /v1/agent/check/update/{id...}", a.update)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.requests.Add(1)
		if a.down.Load() {
			http.Error(w, "agent unavailable", http.StatusInternalServerError)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (a *FakeAgent) members(w http.ResponseWriter, _ *http.Request) {
	c := a.cluster
	c.mu.Lock()
	members := make([]*consulapi.AgentMember, 0, len(c.agents))
	for _, peer := range c.agents {
		status := consul.MemberStatusAlive
		if peer.down.Load() {
			status = 4 // failed
		}
		members = append(members, &consulapi.AgentMember{
			Name:   peer.Name,
			Addr:   "127.0.0.1",
			Port:   8301,
			Status: status,
		})
	}
	c.mu.Unlock()
	writeJSON(w, members)
}

func (a *FakeAgent) register(w http.ResponseWriter, r *http.Request) {
	var reg consulapi.AgentServiceRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if reg.ID == "" {
		reg.ID = reg.Name
	}
	status := consulapi.HealthCritical
	if reg.Check != nil && reg.Check.Status != "" {
		status = reg.Check.Status
	}

	c := a.cluster
	c.mu.Lock()
	c.services[reg.ID] = &fakeService{reg: reg, agent: a.Name, status: status}
	c.registerCalls[reg.ID]++
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (a *FakeAgent) deregister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c := a.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.services[id]
	if !ok || s.agent != a.Name {
		http.Error(w, "Unknown service ID "+id, http.StatusNotFound)
		return
	}
	delete(c.services, id)
	w.WriteHeader(http.StatusOK)
}

func (a *FakeAgent) health(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	q := r.URL.Query()
	tag := q.Get("tag")
	_, passingOnly := q["passing"]
	dc := q.Get("dc")

	c := a.cluster
	c.mu.Lock()
	c.healthQueries = append(c.healthQueries, q)

	entries := []*consulapi.ServiceEntry{}
	if dc == "" || dc == ConsulDatacenter {
		ids := make([]string, 0, len(c.services))
		for id := range c.services {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			s := c.services[id]
			if s.reg.Name != name {
				continue
			}
			if tag != "" && !slices.Contains(s.reg.Tags, tag) {
				continue
			}
			if passingOnly && (s.status != consulapi.HealthPassing || c.agentDownLocked(s.agent)) {
				continue
			}
			entries = append(entries, &consulapi.ServiceEntry{
				Node: &consulapi.Node{Node: s.agent, Address: "127.0.0.1", Datacenter: ConsulDatacenter},
				Service: &consulapi.AgentService{
					ID:      s.reg.ID,
					Service: s.reg.Name,
					Tags:    s.reg.Tags,
					Meta:    s.reg.Meta,
					Port:    s.reg.Port,
					Address: s.reg.Address,
				},
				Checks: consulapi.HealthChecks{
					{CheckID: consul.TTLCheckID(s.reg.ID), ServiceID: s.reg.ID, Status: s.status},
				},
			})
		}
	}
	c.mu.Unlock()
	writeJSON(w, entries)
}

func (a *FakeAgent) pass(w http.ResponseWriter, r *http.Request) {
	checkID := r.PathValue("id")
	c := a.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.services[strings.TrimPrefix(checkID, consul.TTLCheckPrefix)]
	if !ok || s.reg.Check == nil || s.reg.Check.TTL == "" {
		http.Error(w, "CheckID "+checkID+" does not have associated TTL", http.StatusNotFound)
		return
	}
	s.status = consulapi.HealthPassing
	c.heartbeats[checkID]++
	w.WriteHeader(http.StatusOK)
}

func (a *FakeAgent) update(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string
		Output string
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	checkID := r.PathValue("id")
	c := a.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.services[strings.TrimPrefix(checkID, consul.TTLCheckPrefix)]
	if !ok || s.reg.Check == nil || s.reg.Check.TTL == "" {
		http.Error(w, "CheckID "+checkID+" does not have associated TTL", http.StatusNotFound)
		return
	}
	s.status = body.Status
	if body.Status == consulapi.HealthPassing {
		c.heartbeats[checkID]++
	}
	w.WriteHeader(http.StatusOK)
}

func (c *ConsulCluster) agentDownLocked(name string) bool {
	for _, a := range c.agents {
		if a.Name == name {
			return a.down.Load()
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Consul-Index", "1")
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("X-Consul-KnownLeader", "true")
	_ = json.NewEncoder(w).Encode(v)
}
