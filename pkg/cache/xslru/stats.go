package xslru

import "sync/atomic"

// Stats 是缓存统计快照。
//
// Waits 为加入进行中计算的访问次数：这些调用未触发 compute，与计算方共享结果或错误。
type Stats struct {
	Hits            uint64 `json:"hits"`
	Misses          uint64 `json:"misses"`
	Waits           uint64 `json:"waits"`
	Promotions      uint64 `json:"promotions"`
	Demotions       uint64 `json:"demotions"`
	Evictions       uint64 `json:"evictions"`
	Disposals       uint64 `json:"disposals"`
	DisposeFailures uint64 `json:"dispose_failures"`
	ComputeFailures uint64 `json:"compute_failures"`

	// Len 为两个分段的条目总数。
	Len int `json:"len"`
	// Pending 为已淘汰但仍被持有、尚未销毁的条目数。
	Pending int `json:"pending"`
	// Capacity 为当前容量。
	Capacity int `json:"capacity"`
}

// HitRatio 返回未触发 compute 的访问占比，Waits 计入命中；无访问时返回 0。
func (s Stats) HitRatio() float64 {
	served := s.Hits + s.Waits
	total := served + s.Misses
	if total == 0 {
		return 0
	}
	return float64(served) / float64(total)
}

// add 累加另一个快照，用于分片汇总。
func (s Stats) add(o Stats) Stats {
	s.Hits += o.Hits
	s.Misses += o.Misses
	s.Waits += o.Waits
	s.Promotions += o.Promotions
	s.Demotions += o.Demotions
	s.Evictions += o.Evictions
	s.Disposals += o.Disposals
	s.DisposeFailures += o.DisposeFailures
	s.ComputeFailures += o.ComputeFailures
	s.Len += o.Len
	s.Pending += o.Pending
	s.Capacity += o.Capacity
	return s
}

type counters struct {
	hits            atomic.Uint64
	misses          atomic.Uint64
	waits           atomic.Uint64
	promotions      atomic.Uint64
	demotions       atomic.Uint64
	evictions       atomic.Uint64
	disposals       atomic.Uint64
	disposeFailures atomic.Uint64
	computeFailures atomic.Uint64
}

// Stats 返回统计快照。计数器各自原子读取，彼此之间不保证一致。
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	size := c.probation.len() + c.protected.len()
	pending := c.pending
	capacity := c.capacity
	c.mu.Unlock()

	return Stats{
		Hits:            c.stats.hits.Load(),
		Misses:          c.stats.misses.Load(),
		Waits:           c.stats.waits.Load(),
		Promotions:      c.stats.promotions.Load(),
		Demotions:       c.stats.demotions.Load(),
		Evictions:       c.stats.evictions.Load(),
		Disposals:       c.stats.disposals.Load(),
		DisposeFailures: c.stats.disposeFailures.Load(),
		ComputeFailures: c.stats.computeFailures.Load(),
		Len:             size,
		Pending:         pending,
		Capacity:        capacity,
	}
}
