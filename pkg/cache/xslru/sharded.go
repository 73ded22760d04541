package xslru

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultShardCount 默认分片数。
	DefaultShardCount = 16
	maxShardCount     = 1 << 16 // 65536
)

// Hasher 将 key 映射为 64 位哈希，用于选择分片。
// 相等的 key 必须产生相同的哈希。
type Hasher[K comparable] func(key K) uint64

// StringHasher 返回基于 xxhash 的字符串 key 哈希函数。
func StringHasher[K ~string]() Hasher[K] {
	return func(key K) uint64 {
		return xxhash.Sum64String(string(key))
	}
}

// Sharded 将 key 按哈希分布到多个相互独立的 [Cache]，降低高并发下的锁争用。
//
// 每个分片各自执行 SLRU 策略与延迟销毁，容量均分（余数分给前面的分片），
// 各分片容量之和恰为 Config.Capacity。
// 因此淘汰只在分片内部按 LRU 进行，全局顺序不作保证。
type Sharded[K comparable, V any] struct {
	shards []*Cache[K, V]
	hasher Hasher[K]
	mask   uint64
}

// NewSharded 创建分片缓存。shardCount 必须是 2 的幂，不超过 65536 且不超过容量；
// 传 0 使用 [DefaultShardCount]，容量不足时缩小到不超过容量的最大 2 的幂。
// 其余配置与 [New] 相同，作用于每个分片。
func NewSharded[K comparable, V any](cfg Config[K, V], hasher Hasher[K], shardCount int, opts ...Option) (*Sharded[K, V], error) {
	if hasher == nil {
		return nil, ErrNilHasher
	}
	if err := validateCapacity(cfg.Capacity); err != nil {
		return nil, err
	}
	if shardCount == 0 {
		shardCount = DefaultShardCount
		for shardCount > cfg.Capacity {
			shardCount >>= 1
		}
	}
	if shardCount < 0 || shardCount > maxShardCount || shardCount&(shardCount-1) != 0 {
		return nil, fmt.Errorf("%w: must be a positive power of 2 (max %d), got %d",
			ErrInvalidShardCount, maxShardCount, shardCount)
	}
	// 每片至少 1 项，否则各分片之和会超过总容量。
	if shardCount > cfg.Capacity {
		return nil, fmt.Errorf("%w: %d shards exceed capacity %d",
			ErrInvalidShardCount, shardCount, cfg.Capacity)
	}

	perShard := cfg.Capacity / shardCount
	remainder := cfg.Capacity % shardCount

	shards := make([]*Cache[K, V], shardCount)
	for i := range shards {
		shardCfg := cfg
		shardCfg.Capacity = perShard
		if i < remainder {
			shardCfg.Capacity++
		}
		c, err := New(shardCfg, opts...)
		if err != nil {
			return nil, err
		}
		shards[i] = c
	}

	return &Sharded[K, V]{
		shards: shards,
		hasher: hasher,
		mask:   uint64(shardCount - 1),
	}, nil
}

// Shard 返回 key 所在的分片，可与 [UseWithResult] 组合使用。
func (s *Sharded[K, V]) Shard(key K) *Cache[K, V] {
	return s.shards[s.hasher(key)&s.mask]
}

// Use 在 key 所在分片上执行 [Cache.Use]。
func (s *Sharded[K, V]) Use(ctx context.Context, key K, fn func(ctx context.Context, value V) error) error {
	return s.Shard(key).Use(ctx, key, fn)
}

// Contains 报告 key 是否存在于其分片。
func (s *Sharded[K, V]) Contains(key K) bool {
	return s.Shard(key).Contains(key)
}

// Len 返回所有分片条目数之和（逐片读取，非原子快照）。
func (s *Sharded[K, V]) Len() int {
	n := 0
	for _, c := range s.shards {
		n += c.Len()
	}
	return n
}

// Cleanup 对所有分片执行 [Cache.Cleanup]，返回销毁总数。
func (s *Sharded[K, V]) Cleanup() int {
	n := 0
	for _, c := range s.shards {
		n += c.Cleanup()
	}
	return n
}

// Clear 清空所有分片。
func (s *Sharded[K, V]) Clear() {
	for _, c := range s.shards {
		c.Clear()
	}
}

// Stats 返回所有分片统计之和。
func (s *Sharded[K, V]) Stats() Stats {
	var total Stats
	for _, c := range s.shards {
		total = total.add(c.Stats())
	}
	return total
}

// Close 关闭所有分片。重复调用返回 [ErrClosed]。
func (s *Sharded[K, V]) Close() error {
	var errs []error
	for _, c := range s.shards {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(s.shards) {
		return ErrClosed
	}
	return errors.Join(errs...)
}
