package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/omeyang/slrukit/pkg/observability/xmetrics"
)

// meterCollector 用进程内 ManualReader 收集缓存操作指标，供 simulate 汇总输出。
type meterCollector struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func newMeterCollector() *meterCollector {
	reader := sdkmetric.NewManualReader()
	return &meterCollector{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

func (m *meterCollector) observer() (xmetrics.Observer, error) {
	return xmetrics.NewOTelObserver(
		xmetrics.WithMeterProvider(m.provider),
		xmetrics.WithInstrumentationName("slructl"),
	)
}

// totals 返回 slru.operation.total 按 "operation/status" 汇总的计数。
func (m *meterCollector) totals(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != xmetrics.MetricOperationTotal {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[attrValue(dp.Attributes, "operation")+"/"+attrValue(dp.Attributes, "status")] += dp.Value
			}
		}
	}
	return out, nil
}

func (m *meterCollector) shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func attrValue(set attribute.Set, key string) string {
	if v, ok := set.Value(attribute.Key(key)); ok {
		return v.Emit()
	}
	return ""
}
