package registry

import "github.com/ceyewan/consul-registry/xerrors"

var (
	// ErrNoRegistryAddress 既没有配置地址，也没有设置 REGISTRY_ADDRESS 环境变量
	ErrNoRegistryAddress = xerrors.New("no registry address configured")

	// ErrRegistryClosed registry 已销毁
	ErrRegistryClosed = xerrors.New("registry is closed")

	// ErrInvalidEndpoint 端点为空
	ErrInvalidEndpoint = xerrors.New("invalid endpoint")

	// ErrInvalidListener 监听器为空
	ErrInvalidListener = xerrors.New("invalid listener")
)
