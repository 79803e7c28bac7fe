package registry

import (
	"maps"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/ceyewan/consul-registry/xerrors"
)

// 端点参数键
const (
	ParamInterface = "interface"
	ParamVersion   = "version"
	ParamPID       = "pid"
)

// 角色协议
const (
	// ProviderProtocol 提供者自身的订阅使用的协议，订阅时被忽略
	ProviderProtocol = "provider"
	// ConsumerProtocol 消费者注册与订阅使用的协议
	ConsumerProtocol = "consumer"
)

const serviceNameSeparator = ":::"

// Endpoint 服务端点描述，创建后不可修改，按值比较。
// 端口为 0 表示消费者（不监听端口）。
type Endpoint struct {
	protocol string
	username string
	password string
	host     string
	port     int
	path     string
	params   map[string]string
	str      string
}

// NewEndpoint 创建端点，params 会被复制
func NewEndpoint(protocol, host string, port int, path string, params map[string]string) *Endpoint {
	return newEndpoint(protocol, "", "", host, port, path, params)
}

func newEndpoint(protocol, username, password, host string, port int, path string, params map[string]string) *Endpoint {
	e := &Endpoint{
		protocol: protocol,
		username: username,
		password: password,
		host:     host,
		port:     port,
		path:     strings.TrimPrefix(path, "/"),
		params:   maps.Clone(params),
	}
	if e.params == nil {
		e.params = map[string]string{}
	}
	e.str = e.format()
	return e
}

// ParseEndpoint 解析 "protocol://[user[:password]@]host[:port]/path?k=v" 形式的端点
func ParseEndpoint(raw string) (*Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, "parse endpoint %q: %v", raw, err)
	}
	if u.Scheme == "" {
		return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, "endpoint %q has no protocol", raw)
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 0 || port > 65535 {
			return nil, xerrors.Wrapf(xerrors.ErrInvalidInput, "endpoint %q has invalid port", raw)
		}
	}

	var username, password string
	if u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}

	params := make(map[string]string)
	for k, v := range u.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return newEndpoint(u.Scheme, username, password, u.Hostname(), port, u.Path, params), nil
}

// MustParseEndpoint 类似 ParseEndpoint，失败时 panic
func MustParseEndpoint(raw string) *Endpoint {
	return xerrors.Must(ParseEndpoint(raw))
}

// WithCredentials 返回带有用户名和密码的副本
func (e *Endpoint) WithCredentials(username, password string) *Endpoint {
	return newEndpoint(e.protocol, username, password, e.host, e.port, e.path, e.params)
}

func (e *Endpoint) Protocol() string { return e.protocol }
func (e *Endpoint) Username() string { return e.username }
func (e *Endpoint) Password() string { return e.password }
func (e *Endpoint) Host() string     { return e.host }
func (e *Endpoint) Port() int        { return e.port }
func (e *Endpoint) Path() string     { return e.path }

// Address 返回 host:port
func (e *Endpoint) Address() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

// Param 返回参数值，不存在时返回空字符串
func (e *Endpoint) Param(key string) string {
	return e.params[key]
}

// Params 返回参数的副本
func (e *Endpoint) Params() map[string]string {
	return maps.Clone(e.params)
}

// Interface 返回服务接口名，优先取 interface 参数，否则取路径
func (e *Endpoint) Interface() string {
	if v := e.params[ParamInterface]; v != "" {
		return v
	}
	return e.path
}

// IsProvider 是否为监听端口的提供者端点
func (e *Endpoint) IsProvider() bool {
	return e.port > 0
}

// ServiceName 服务名：interface:::group[_version]，同一逻辑服务的所有实例共享
func (e *Endpoint) ServiceName(group string) string {
	name := e.Interface() + serviceNameSeparator + group
	if v := e.params[ParamVersion]; v != "" {
		name += "_" + v
	}
	return name
}

// ServiceKey 实例 ID：serviceName[_host]:port[_pid]
func (e *Endpoint) ServiceKey(group string) string {
	key := e.ServiceName(group)
	if e.host != "" {
		key += "_" + e.host
	}
	key += ":" + strconv.Itoa(e.port)
	if pid := e.params[ParamPID]; pid != "" {
		key += "_" + pid
	}
	return key
}

// String 返回规范化的字符串，参数按键排序，可作为集合键
func (e *Endpoint) String() string {
	return e.str
}

// Equal 按值比较
func (e *Endpoint) Equal(other *Endpoint) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.str == other.str
}

func (e *Endpoint) format() string {
	u := url.URL{Scheme: e.protocol, Host: e.host, Path: "/" + e.path}
	if e.port > 0 {
		u.Host = net.JoinHostPort(e.host, strconv.Itoa(e.port))
	}
	if e.username != "" {
		if e.password != "" {
			u.User = url.UserPassword(e.username, e.password)
		} else {
			u.User = url.User(e.username)
		}
	}
	if len(e.params) > 0 {
		var b strings.Builder
		for i, k := range slices.Sorted(maps.Keys(e.params)) {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(e.params[k]))
		}
		u.RawQuery = b.String()
	}
	return u.String()
}
