package breaker

import "github.com/ceyewan/consul-registry/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("breaker: config is nil")

	// ErrKeyEmpty 熔断键为空
	ErrKeyEmpty = xerrors.New("breaker: key is empty")

	// ErrNotFound 指定键的熔断器尚未创建
	ErrNotFound = xerrors.New("breaker: not found")

	// ErrOpenState 熔断器处于打开状态或半开状态请求过多
	ErrOpenState = xerrors.New("breaker: circuit breaker is open")
)
