// Package clog 提供基于 slog 的结构化日志组件，支持命名空间和 Context 字段提取。
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"})
//	logger.Info("service registered", clog.String("service_key", key))
//
// 组件内部通过 WithNamespace 派生子 Logger：
//
//	l := logger.WithNamespace("registry")
//	// namespace=registry
package clog

import "context"

// Logger 日志接口
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建带预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 追加命名空间，以 "." 连接
	WithNamespace(parts ...string) Logger

	// SetLevel 运行时调整日志级别，影响同一根 Logger 派生出的所有子 Logger
	SetLevel(level Level) error

	// Flush 同步缓冲区
	Flush()
}
