package xslru

import (
	"context"
	"fmt"
	"math"

	"github.com/omeyang/slrukit/pkg/observability/xlog"
	"github.com/omeyang/slrukit/pkg/observability/xmetrics"
)

const (
	// maxCapacity 缓存最大条目数上限。
	maxCapacity = 1 << 24 // 16,777,216

	// DefaultProtectedRatio 默认保护段占比。
	DefaultProtectedRatio = 0.5

	// DefaultName 默认组件名，用于日志与观测属性。
	DefaultName = "xslru"
)

// ComputeFunc 在缓存未命中时计算 key 对应的值。
// 返回错误时不会写入任何条目，后续 Use 会重新计算。
type ComputeFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// DisposeFunc 释放已被淘汰或清理的值。
// 每个值至多调用一次；返回的错误只记录日志，不会传播给任何调用方。
type DisposeFunc[K comparable, V any] func(key K, value V) error

// Config 定义缓存的必需配置。
type Config[K comparable, V any] struct {
	// Capacity 缓存最大条目数（两个分段之和）。
	// 必须大于 0 且不超过 16,777,216。
	Capacity int

	// Compute 未命中时的计算函数，必填。
	Compute ComputeFunc[K, V]

	// Dispose 值的销毁函数，必填；无需销毁时传入返回 nil 的空实现。
	Dispose DisposeFunc[K, V]
}

// Option 定义缓存可选配置函数类型。
type Option func(*options)

type options struct {
	protectedRatio float64
	name           string
	logger         xlog.Logger
	observer       xmetrics.Observer
}

func defaultOptions() options {
	return options{
		protectedRatio: DefaultProtectedRatio,
		name:           DefaultName,
		observer:       xmetrics.NoopObserver{},
	}
}

// WithProtectedRatio 设置保护段占总容量的比例，取值 [0, 1]，默认 0.5。
//
//   - 0 退化为普通 LRU：条目永远不会被提升
//   - 1 时试用段仍保留 1 个槽位，保证新 key 总能被接纳
//
// 越界值在 New 时返回 [ErrInvalidProtectedRatio]。
func WithProtectedRatio(ratio float64) Option {
	return func(o *options) {
		o.protectedRatio = ratio
	}
}

// WithName 设置缓存名称，作为日志 component 与观测 component 属性。
// 空字符串被忽略。
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger 设置日志记录器。未设置时使用 [xlog.Default]。
func WithLogger(logger xlog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver 设置观测器，用于记录 compute/dispose 的耗时与结果。
func WithObserver(observer xmetrics.Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

func (o *options) validate() error {
	r := o.protectedRatio
	if math.IsNaN(r) || r < 0 || r > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidProtectedRatio, r)
	}
	return nil
}

func (o *options) log() xlog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return xlog.Default()
}

func validateCapacity(capacity int) error {
	if capacity <= 0 {
		return ErrInvalidCapacity
	}
	if capacity > maxCapacity {
		return ErrCapacityExceedsMax
	}
	return nil
}

// splitCapacity 按比例划分试用段与保护段容量。
// 试用段至少 1 个槽位；两段之和恒等于 capacity。
func splitCapacity(capacity int, ratio float64) (probation, protected int) {
	probation = int(math.Round(float64(capacity) * (1 - ratio)))
	probation = min(max(probation, 1), capacity)
	return probation, capacity - probation
}
