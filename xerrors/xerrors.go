// Package xerrors 提供注册中心客户端统一的错误处理工具。
//
// 错误分为四类，与注册中心的失败语义一一对应：
//   - CONFIG：配置错误（无法解析注册中心地址），构造阶段致命，不重试
//   - TRANSPORT：传输错误（Agent 不可达或返回非 200），可恢复，触发重连与重试
//   - PARTIAL：部分结果错误（成员或健康查询失败），记录日志后返回空结果
//   - 未找到：不是错误，由调用方以显式的"不存在"结果表示
package xerrors

import (
	"errors"
	"fmt"
)

// 错误码
const (
	CodeConfig    = "CONFIG"
	CodeTransport = "TRANSPORT"
	CodePartial   = "PARTIAL"
)

// 通用哨兵错误
var (
	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrUnavailable 没有可用的后端
	ErrUnavailable = errors.New("unavailable")
)

// Wrap 用上下文信息包装错误，保留错误链。
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 用格式化的上下文信息包装错误。
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// WithCode 用错误码包装错误。
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Cause: err}
}

// Transport 将错误标记为传输错误。
func Transport(err error) error {
	return WithCode(err, CodeTransport)
}

// Config 将错误标记为配置错误。
func Config(err error) error {
	return WithCode(err, CodeConfig)
}

// CodedError 带有机器可读错误码的错误。
type CodedError struct {
	Code  string
	Cause error
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("[%s]", e.Code)
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

// GetCode 从错误链中提取最外层的错误码。
func GetCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// IsTransport 判断错误链中是否带有 TRANSPORT 错误码。
func IsTransport(err error) bool {
	return hasCode(err, CodeTransport)
}

// IsConfig 判断错误链中是否带有 CONFIG 错误码。
func IsConfig(err error) bool {
	return hasCode(err, CodeConfig)
}

func hasCode(err error, code string) bool {
	for err != nil {
		var coded *CodedError
		if !errors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Cause
	}
	return false
}

// Must 如果 err 不为 nil，则 panic。仅用于初始化阶段。
func Must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("must: %v", err))
	}
	return v
}

// MultiError 合并多个错误。
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%v (and %d more errors)", m.Errors[0], len(m.Errors)-1)
}

func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Combine 将多个错误合并为一个，忽略 nil。
func Combine(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &MultiError{Errors: nonNil}
	}
}

// 标准库函数再导出
var (
	New    = errors.New
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)
