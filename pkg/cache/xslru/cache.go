package xslru

import (
	"context"
	"errors"
	"sync"
)

// Cache 是带引用计数延迟销毁的分段 LRU 缓存。
// 必须通过 [New] 创建，零值不可用。所有方法都是并发安全的。
//
// 条目首次计算后进入试用段，再次命中时提升到保护段；保护段溢出时
// 其 LRU 条目降级回试用段 MRU 端，试用段溢出时其 LRU 条目被淘汰。
// 被淘汰的条目若仍被某个 Use 持有（pin），销毁推迟到最后一个持有者返回。
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	probation  *segment[K, V]
	protected  *segment[K, V]
	capacity   int
	inflight   map[K]*call[K, V]
	generation uint64
	pending    int // 已脱离分段、等待最后一个持有者释放的条目数
	closed     bool

	compute ComputeFunc[K, V]
	dispose DisposeFunc[K, V]
	opts    options
	stats   counters
}

// New 创建 SLRU 缓存。
//
// 配置无效时立即返回错误：
//   - cfg.Capacity <= 0 返回 [ErrInvalidCapacity]，超过 16,777,216 返回 [ErrCapacityExceedsMax]
//   - cfg.Compute 为 nil 返回 [ErrNilCompute]，cfg.Dispose 为 nil 返回 [ErrNilDispose]
//   - 保护段比例不在 [0, 1] 返回 [ErrInvalidProtectedRatio]
func New[K comparable, V any](cfg Config[K, V], opts ...Option) (*Cache[K, V], error) {
	if err := validateCapacity(cfg.Capacity); err != nil {
		return nil, err
	}
	if cfg.Compute == nil {
		return nil, ErrNilCompute
	}
	if cfg.Dispose == nil {
		return nil, ErrNilDispose
	}

	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	probationCap, protectedCap := splitCapacity(cfg.Capacity, o.protectedRatio)
	probation, err := newSegment[K, V](cfg.Capacity+1, probationCap)
	if err != nil {
		return nil, err
	}
	protected, err := newSegment[K, V](cfg.Capacity+1, protectedCap)
	if err != nil {
		return nil, err
	}

	return &Cache[K, V]{
		probation: probation,
		protected: protected,
		capacity:  cfg.Capacity,
		inflight:  make(map[K]*call[K, V]),
		compute:   cfg.Compute,
		dispose:   cfg.Dispose,
		opts:      o,
	}, nil
}

// Use 获取（必要时计算）key 对应的值并交给 fn 使用。
//
// fn 执行期间条目处于 pin 状态：即使被并发淘汰或 Clear，也不会被销毁，
// 销毁推迟到最后一个持有者返回之后。fn 返回错误或 panic 时 pin 同样会被释放。
//
// 同一 key 的并发调用只会触发一次计算，后到者等待进行中的计算并共享其结果；
// 等待可被 ctx 取消。计算失败时错误原样返回，且不会写入条目。
//
// 设计决策: 锁只在簿记阶段持有，compute、fn 与 dispose 都在锁外执行，
// 慢计算或慢回调不会阻塞其他 key。
func (c *Cache[K, V]) Use(ctx context.Context, key K, fn func(ctx context.Context, value V) error) error {
	if ctx == nil {
		return ErrNilContext
	}
	if fn == nil {
		return ErrNilFunc
	}
	e, err := c.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer c.release(e)
	return fn(ctx, e.value)
}

// UseWithResult 与 [Cache.Use] 相同，但 fn 可以返回结果。
//
// 这是泛型函数（方法不能声明类型参数），必须作为包级函数使用。
func UseWithResult[K comparable, V, R any](ctx context.Context, c *Cache[K, V], key K, fn func(ctx context.Context, value V) (R, error)) (R, error) {
	var result R
	if fn == nil {
		return result, ErrNilFunc
	}
	err := c.Use(ctx, key, func(ctx context.Context, value V) error {
		var err error
		result, err = fn(ctx, value)
		return err
	})
	return result, err
}

// Contains 报告 key 当前是否存在于任一分段，不更新访问顺序，与 pin 状态无关。
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lookup(key)
	return ok
}

// Len 返回两个分段的条目总数。已淘汰但仍被持有的条目不计入。
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.probation.len() + c.protected.len()
}

// Capacity 返回当前容量。
func (c *Cache[K, V]) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// Keys 返回所有 key 的快照：先试用段再保护段，段内按 LRU 到 MRU 排列。
// 仅用于调试。
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]K, 0, c.probation.len()+c.protected.len())
	for _, e := range c.probation.entries() {
		keys = append(keys, e.key)
	}
	for _, e := range c.protected.entries() {
		keys = append(keys, e.key)
	}
	return keys
}

// Cleanup 移除所有未被持有的条目并立即销毁，返回销毁的条目数。
// 被持有的条目保留在原位。Cleanup 与容量压力无关，是一次显式的全量清扫。
func (c *Cache[K, V]) Cleanup() int {
	c.mu.Lock()
	var victims []*entry[K, V]
	for _, seg := range c.segments() {
		for _, e := range seg.entries() {
			if e.refs > 0 {
				continue
			}
			seg.remove(e.key)
			c.detach(e)
			victims = append(victims, e)
		}
	}
	c.mu.Unlock()

	c.disposeAll(victims)
	return len(victims)
}

// Clear 立即在逻辑上清空缓存。
//
// 未被持有的条目在 Clear 返回前同步销毁；被持有的条目推迟到其最后一个 Use 返回时销毁。
// Clear 返回后 Len() == 0，且对任意 key Contains 返回 false。
// Clear 之前开始、之后完成的计算结果仍交给其调用方，但不会进入缓存。
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	victims := c.clearLocked()
	c.mu.Unlock()

	c.disposeAll(victims)
}

// Resize 调整缓存容量，按原比例重新划分两个分段。
// 缩容时先将保护段溢出降级，再淘汰试用段溢出（被持有的条目延迟销毁）。
func (c *Cache[K, V]) Resize(capacity int) error {
	if err := validateCapacity(capacity); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	probationCap, protectedCap := splitCapacity(capacity, c.opts.protectedRatio)
	c.probation.limit = probationCap
	c.protected.limit = protectedCap
	victims := c.rebalance()
	c.probation.resize(capacity+1, probationCap)
	c.protected.resize(capacity+1, protectedCap)
	c.capacity = capacity
	c.mu.Unlock()

	c.disposeAll(victims)
	return nil
}

// Close 清空缓存并拒绝后续 Use（返回 [ErrClosed]）。
// 仍被持有的条目在其 Use 返回后销毁。重复调用返回 [ErrClosed]。
func (c *Cache[K, V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	victims := c.clearLocked()
	c.mu.Unlock()

	c.disposeAll(victims)
	return nil
}

// =============================================================================
// 内部簿记：以下方法除特别说明外均要求持有 c.mu
// =============================================================================

// acquire 查找或计算条目，返回时条目已 pin。不持有锁。
func (c *Cache[K, V]) acquire(ctx context.Context, key K) (*entry[K, V], error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}

		if e, ok := c.lookup(key); ok {
			victims := c.access(e)
			e.refs++
			c.mu.Unlock()
			c.stats.hits.Add(1)
			c.disposeAll(victims)
			return e, nil
		}

		if cl, ok := c.inflight[key]; ok {
			cl.waiters++
			c.mu.Unlock()
			c.stats.waits.Add(1)
			e, retry, err := c.wait(ctx, cl)
			if retry {
				continue
			}
			return e, err
		}

		cl := &call[K, V]{done: make(chan struct{}), generation: c.generation}
		c.inflight[key] = cl
		c.mu.Unlock()

		c.stats.misses.Add(1)
		return c.load(ctx, key, cl)
	}
}

// release 释放一次 pin；若条目已脱离分段且这是最后一个持有者，则在锁外销毁。不持有锁。
func (c *Cache[K, V]) release(e *entry[K, V]) {
	c.mu.Lock()
	e.refs--
	last := e.refs == 0 && e.at == detached && !e.disposed
	if last {
		e.disposed = true
		c.pending--
	}
	c.mu.Unlock()

	if last {
		c.disposeOne(e)
	}
}

func (c *Cache[K, V]) lookup(key K) (*entry[K, V], bool) {
	if e, ok := c.protected.peek(key); ok {
		return e, true
	}
	return c.probation.peek(key)
}

// access 记录一次命中：保护段内移到 MRU，试用段内提升到保护段。
// 保护段容量为 0 时退化为普通 LRU。
func (c *Cache[K, V]) access(e *entry[K, V]) []*entry[K, V] {
	if e.at == inProtected {
		c.protected.touch(e.key)
		return nil
	}
	if c.protected.limit == 0 {
		c.probation.touch(e.key)
		return nil
	}
	c.probation.remove(e.key)
	e.at = inProtected
	c.protected.push(e)
	c.stats.promotions.Add(1)
	return c.rebalance()
}

// admit 将新条目放入试用段 MRU 端。
func (c *Cache[K, V]) admit(e *entry[K, V]) []*entry[K, V] {
	e.at = inProbation
	c.probation.push(e)
	return c.rebalance()
}

// rebalance 恢复分段上限，返回需要立即销毁的条目。
//
// 设计决策: 先把保护段溢出降级到试用段 MRU 端，再评估试用段溢出。
// 降级条目排在试用段最新位置，突发的一次性访问会先挤出更早的试用条目。
func (c *Cache[K, V]) rebalance() []*entry[K, V] {
	for {
		d, ok := c.protected.overflow()
		if !ok {
			break
		}
		d.at = inProbation
		c.probation.push(d)
		c.stats.demotions.Add(1)
	}

	var victims []*entry[K, V]
	for {
		v, ok := c.probation.overflow()
		if !ok {
			break
		}
		c.stats.evictions.Add(1)
		if c.detach(v) {
			victims = append(victims, v)
		}
	}
	return victims
}

// detach 标记已从分段移除的条目。
// 未被持有时认领销毁并返回 true；否则计入 pending，由最后一个持有者销毁。
func (c *Cache[K, V]) detach(e *entry[K, V]) bool {
	e.at = detached
	if e.refs == 0 {
		e.disposed = true
		return true
	}
	c.pending++
	return false
}

func (c *Cache[K, V]) clearLocked() []*entry[K, V] {
	var victims []*entry[K, V]
	for _, seg := range c.segments() {
		for _, e := range seg.entries() {
			if c.detach(e) {
				victims = append(victims, e)
			}
		}
		seg.purge()
	}
	// 新一代开始：进行中的计算完成后不再入缓存，后续 Use 会重新计算。
	c.generation++
	clear(c.inflight)
	return victims
}

func (c *Cache[K, V]) segments() [2]*segment[K, V] {
	return [2]*segment[K, V]{c.probation, c.protected}
}

// placeOf 返回 key 所在分段，供白盒测试使用。
func (c *Cache[K, V]) placeOf(key K) (place, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(key)
	if !ok {
		return detached, false
	}
	return e.at, true
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
