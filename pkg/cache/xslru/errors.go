package xslru

import "errors"

// 配置错误：构造时立即返回，缓存不可用。
var (
	// ErrInvalidCapacity 表示容量配置无效。
	ErrInvalidCapacity = errors.New("xslru: capacity must be greater than 0")

	// ErrCapacityExceedsMax 表示容量超过上限 (16,777,216)。
	ErrCapacityExceedsMax = errors.New("xslru: capacity must not exceed 16777216")

	// ErrInvalidProtectedRatio 表示保护段比例不在 [0, 1] 区间内。
	ErrInvalidProtectedRatio = errors.New("xslru: protected ratio must be within [0, 1]")

	// ErrNilCompute 表示未提供计算函数。
	ErrNilCompute = errors.New("xslru: compute func is required")

	// ErrNilDispose 表示未提供销毁函数（无需销毁时传入空实现）。
	ErrNilDispose = errors.New("xslru: dispose func is required")

	// ErrInvalidShardCount 表示分片数不是 2 的幂或超出上限。
	ErrInvalidShardCount = errors.New("xslru: invalid shard count")

	// ErrNilHasher 表示分片缓存未提供哈希函数。
	ErrNilHasher = errors.New("xslru: hasher is required")
)

// 运行期错误。
var (
	// ErrClosed 表示缓存已关闭。
	ErrClosed = errors.New("xslru: cache closed")

	// ErrNilContext 表示传入了 nil context。
	ErrNilContext = errors.New("xslru: nil context")

	// ErrNilFunc 表示 Use 的回调为 nil。
	ErrNilFunc = errors.New("xslru: nil func")

	// ErrComputePanic 表示计算函数发生 panic，已被转换为错误返回。
	ErrComputePanic = errors.New("xslru: compute panicked")

	// ErrDisposePanic 表示销毁函数发生 panic。
	// 仅出现在日志与观测结果中，不会返回给调用方。
	ErrDisposePanic = errors.New("xslru: dispose panicked")
)
