// Package xlog 基于 log/slog 的结构化日志库。
//
// # 核心功能
//
//   - Builder 模式配置（输出目标、级别、格式、轮转）
//   - 强制 context 传递的 Logger 接口，方法签名只接受 slog.Attr
//   - 动态级别调整（运行时热更新，派生 logger 共享级别）
//   - 基于 lumberjack 的文件轮转
//   - 全局 Logger 便利入口
//
// # 创建 Logger
//
// Builder 采用 first-error-wins：遇到第一个配置错误后，Build 返回该错误。
//
//	logger, cleanup, err := xlog.New().
//	    SetLevelString("debug").
//	    SetFormat("json").
//	    SetRotation("/var/log/app.log", xlog.RotationConfig{MaxSizeMB: 100}).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer cleanup()
//
// # 全局 Logger
//
// [Default] 惰性初始化（stderr、Info、text），[SetDefault] 替换，
// [ResetDefault] 仅用于测试。库代码通过选项接收 Logger，未提供时回落到 [Default]。
package xlog
