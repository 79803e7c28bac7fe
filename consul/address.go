package consul

import (
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/ceyewan/consul-registry/xerrors"
)

// DefaultPort Agent HTTP API 默认端口
const DefaultPort = 8500

// AgentAddress 集群中一个 Agent 的地址，按 (Host, Port) 比较
type AgentAddress struct {
	Host string
	Port int
}

func (a AgentAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Compare 按 Host、Port 排序
func (a AgentAddress) Compare(b AgentAddress) int {
	if c := strings.Compare(a.Host, b.Host); c != 0 {
		return c
	}
	return a.Port - b.Port
}

// ParseAddress 解析 "host" 或 "host:port"，缺省端口为 DefaultPort
func ParseAddress(s string) (AgentAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AgentAddress{}, xerrors.Wrap(xerrors.ErrInvalidInput, "empty agent address")
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		// 不带端口
		return AgentAddress{Host: strings.Trim(s, "[]"), Port: DefaultPort}, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return AgentAddress{}, xerrors.Wrapf(xerrors.ErrInvalidInput, "invalid port in agent address %q", s)
	}
	if host == "" {
		return AgentAddress{}, xerrors.Wrapf(xerrors.ErrInvalidInput, "missing host in agent address %q", s)
	}
	return AgentAddress{Host: host, Port: port}, nil
}

// ParseAddresses 解析逗号分隔的地址列表，去重并排序
func ParseAddresses(s string) ([]AgentAddress, error) {
	var out []AgentAddress
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		addr, err := ParseAddress(part)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	if len(out) == 0 {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "no agent address")
	}
	return dedupe(out), nil
}

func dedupe(addrs []AgentAddress) []AgentAddress {
	out := slices.Clone(addrs)
	slices.SortFunc(out, AgentAddress.Compare)
	return slices.Compact(out)
}

// MemberStatusAlive 成员存活状态码
const MemberStatusAlive = 1

// Member 集群成员
type Member struct {
	Name   string
	Addr   string
	Port   int
	Status int
}

// MemberResolver 将成员映射为可访问的 Agent HTTP 地址。
// seed 为返回该成员的 Agent，默认实现使用成员地址和 seed 的端口。
type MemberResolver func(m Member, seed AgentAddress) AgentAddress

// DefaultMemberResolver 成员地址为空时退回成员名称
func DefaultMemberResolver(m Member, seed AgentAddress) AgentAddress {
	host := m.Addr
	if host == "" {
		host = m.Name
	}
	return AgentAddress{Host: host, Port: seed.Port}
}
