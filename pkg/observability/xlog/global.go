package xlog

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// globalLogger 全局 Logger 实例
var globalLogger atomic.Pointer[LoggerWithLevel]

// Default 返回全局默认 Logger。
// 首次调用时惰性创建（stderr，Info 级别，text 格式）。
//
// 设计决策: 并发首次调用可能各自构建一个 logger，由 CompareAndSwap 决定唯一胜者；
// 默认 logger 无需清理，落败的实例直接丢弃。
func Default() LoggerWithLevel {
	if l := globalLogger.Load(); l != nil {
		return *l
	}
	logger, _, err := New().Build()
	if err != nil {
		// 默认参数不应失败；失败时降级为最小可用 logger，构造不 panic。
		levelVar := new(slog.LevelVar)
		logger = &xlogger{handler: slog.Default().Handler(), levelVar: levelVar}
	}
	globalLogger.CompareAndSwap(nil, &logger)
	return *globalLogger.Load()
}

// SetDefault 替换全局默认 Logger。nil 被忽略。
func SetDefault(l LoggerWithLevel) {
	if l == nil {
		return
	}
	globalLogger.Store(&l)
}

// ResetDefault 重置为未初始化状态（仅用于测试）。
func ResetDefault() {
	globalLogger.Store(nil)
}

// Info 使用全局 Logger 记录 Info 日志。
func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	Default().Info(ctx, msg, attrs...)
}

// Warn 使用全局 Logger 记录 Warn 日志。
func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	Default().Warn(ctx, msg, attrs...)
}

// Error 使用全局 Logger 记录 Error 日志。
func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	Default().Error(ctx, msg, attrs...)
}
