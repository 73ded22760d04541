package xslru

import (
	"context"
	"fmt"

	"github.com/omeyang/slrukit/pkg/observability/xlog"
	"github.com/omeyang/slrukit/pkg/observability/xmetrics"
)

const (
	opCompute = "compute"
	opDispose = "dispose"
)

// call 表示某个 key 一次进行中的计算，后到的调用方等待 done 关闭后共享结果。
type call[K comparable, V any] struct {
	done       chan struct{}
	generation uint64

	// waiters 与 finished 由 Cache.mu 保护。
	waiters  int
	finished bool

	// entry 与 err 在 finished 置位时写入（持锁），close(done) 之后只读。
	// 成功时 entry 已为计算方和每个等待者各预留一次 pin。
	entry *entry[K, V]
	err   error
}

// wait 等待进行中的计算。调用前已登记为等待者。不持有锁。
// retry 为 true 表示计算方因自身 ctx 取消而失败，当前调用方应重新查找。
func (c *Cache[K, V]) wait(ctx context.Context, cl *call[K, V]) (e *entry[K, V], retry bool, err error) {
	select {
	case <-cl.done:
		if cl.err == nil {
			return cl.entry, false, nil
		}
		// 设计决策: 不把计算方的取消传染给仍然存活的等待者。
		if isContextErr(cl.err) && ctx.Err() == nil {
			return nil, true, nil
		}
		return nil, false, cl.err

	case <-ctx.Done():
		c.mu.Lock()
		if !cl.finished {
			cl.waiters--
			c.mu.Unlock()
			return nil, false, ctx.Err()
		}
		reserved := cl.entry
		c.mu.Unlock()
		// 计算已经完成并为本调用预留了 pin，必须归还。
		if reserved != nil {
			c.release(reserved)
		}
		return nil, false, ctx.Err()
	}
}

// load 由计算方执行：计算、发布结果、唤醒等待者。不持有锁。
func (c *Cache[K, V]) load(ctx context.Context, key K, cl *call[K, V]) (*entry[K, V], error) {
	value, err := c.safeCompute(ctx, key)
	if err != nil {
		c.stats.computeFailures.Add(1)
	}

	e, victims := c.publish(key, cl, value, err)
	c.disposeAll(victims)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// publish 在锁内写入计算结果并接纳条目，然后关闭 done。
func (c *Cache[K, V]) publish(key K, cl *call[K, V], value V, err error) (*entry[K, V], []*entry[K, V]) {
	var victims []*entry[K, V]

	c.mu.Lock()
	// Clear 可能已换掉 inflight 表，只删除属于自己的记录。
	if c.inflight[key] == cl {
		delete(c.inflight, key)
	}
	cl.finished = true
	cl.err = err
	if err == nil {
		e := &entry[K, V]{key: key, value: value, refs: 1 + cl.waiters}
		if c.closed || cl.generation != c.generation {
			// 旧一代的结果只交给本次的调用方，不进入缓存。
			c.detach(e)
		} else {
			victims = c.admit(e)
		}
		cl.entry = e
	}
	e := cl.entry
	c.mu.Unlock()

	close(cl.done)
	return e, victims
}

// safeCompute 执行计算函数，panic 转换为包装 [ErrComputePanic] 的错误。
func (c *Cache[K, V]) safeCompute(ctx context.Context, key K) (value V, err error) {
	ctx, span := xmetrics.Start(ctx, c.opts.observer, xmetrics.SpanOptions{
		Component: c.opts.name,
		Operation: opCompute,
	})
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrComputePanic, r)
			c.opts.log().Error(ctx, "compute panicked",
				xlog.Component(c.opts.name), xlog.Key(key), xlog.Err(err))
		}
		span.End(xmetrics.Result{Err: err})
	}()
	return c.compute(ctx, key)
}

// disposeAll 逐个销毁条目；单个失败不影响其余条目。不持有锁。
func (c *Cache[K, V]) disposeAll(victims []*entry[K, V]) {
	for _, e := range victims {
		c.disposeOne(e)
	}
}

// disposeOne 销毁单个条目，失败只记录日志与统计。不持有锁。
//
// 设计决策: 销毁是尽力而为的清理步骤，失败不向任何调用方传播，
// 簿记按销毁成功处理（条目视为已移除）。
func (c *Cache[K, V]) disposeOne(e *entry[K, V]) {
	ctx, span := xmetrics.Start(context.Background(), c.opts.observer, xmetrics.SpanOptions{
		Component: c.opts.name,
		Operation: opDispose,
	})
	err := c.safeDispose(e)
	span.End(xmetrics.Result{Err: err})

	c.stats.disposals.Add(1)
	if err != nil {
		c.stats.disposeFailures.Add(1)
		c.opts.log().Warn(ctx, "dispose failed",
			xlog.Component(c.opts.name), xlog.Key(e.key), xlog.Err(err))
	}
}

func (c *Cache[K, V]) safeDispose(e *entry[K, V]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDisposePanic, r)
		}
	}()
	return c.dispose(e.key, e.value)
}
