// Package xmetrics 提供最小化的观测接口（metrics + tracing）。
//
// 业务代码只依赖 Observer/Span 接口；默认实现基于 OpenTelemetry。
//
//	obs, _ := xmetrics.NewOTelObserver(xmetrics.WithMeterProvider(mp))
//	ctx, span := xmetrics.Start(ctx, obs, xmetrics.SpanOptions{
//	    Component: "grammar",
//	    Operation: "compute",
//	})
//	defer span.End(xmetrics.Result{Err: err})
//
// # 指标命名
//
//   - slru.operation.total（计数，单位 1）
//   - slru.operation.duration（直方图，单位 s）
//
// 统一属性：component / operation / status。
package xmetrics
