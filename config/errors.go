package config

import "github.com/ceyewan/consul-registry/xerrors"

// ErrValidationFailed 配置为空或校验失败
var ErrValidationFailed = xerrors.New("configuration validation failed")

// IsValidationError 判断是否为校验失败
func IsValidationError(err error) bool {
	return xerrors.Is(err, ErrValidationFailed)
}
