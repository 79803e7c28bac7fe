package consul

import "github.com/ceyewan/consul-registry/xerrors"

var (
	// ErrClientClosed 客户端池已关闭
	ErrClientClosed = xerrors.New("consul: client closed")

	// ErrInvalidRegistration 注册信息缺少 ID 或名称
	ErrInvalidRegistration = xerrors.New("consul: invalid registration")

	// ErrNoAliveMember Agent 返回的成员列表中没有存活成员
	ErrNoAliveMember = xerrors.New("consul: no alive member")
)
