// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xlog: 结构化日志，基于 log/slog 扩展，支持按大小轮转
//   - xmetrics: 统一观测接口（Observer/Span），提供 OpenTelemetry 实现
//
// 设计原则：
//   - 日志接口以 context 为第一个参数
//   - 观测失败不影响业务路径
package observability
