// Package xslru 提供带引用计数延迟销毁的分段 LRU（SLRU）缓存。
//
// 适合缓存计算代价高、需要显式释放的值（如编译后的语法扫描器），
// 按标识符共享给并发调用方。
//
// # 核心特性
//
//   - 泛型支持：任意 comparable 的 key 与任意值类型
//   - 分段淘汰：试用段 + 保护段，一次性访问的突发不会冲掉热点条目
//   - 单次计算：同一 key 的并发未命中只触发一次 Compute，其余调用方等待并共享结果
//   - 延迟销毁：Use 期间条目被 pin，淘汰后的 Dispose 推迟到最后一个持有者返回
//   - 故障隔离：Dispose 失败/panic 只记录日志，不影响其他条目和调用方
//   - 并发安全：锁只保护簿记，Compute、回调与 Dispose 都在锁外执行
//
// # 淘汰算法
//
//  1. 命中保护段条目：移到保护段 MRU 端
//  2. 命中试用段条目：提升到保护段 MRU 端
//  3. 保护段超限：其 LRU 条目降级到试用段 MRU 端（不销毁）
//  4. 试用段超限：淘汰其 LRU 条目，未被持有则立即销毁，否则延迟
//
// 试用段容量 = round(Capacity × (1 − ProtectedRatio))，至少为 1；保护段为剩余部分。
// ProtectedRatio 为 0 时退化为普通 LRU。
//
// # 使用方式
//
//	cache, err := xslru.New(xslru.Config[string, *Scanner]{
//	    Capacity: 64,
//	    Compute:  func(ctx context.Context, lang string) (*Scanner, error) { return compile(lang) },
//	    Dispose:  func(_ string, s *Scanner) error { return s.Close() },
//	}, xslru.WithProtectedRatio(0.3))
//
//	tokens, err := xslru.UseWithResult(ctx, cache, "go", func(ctx context.Context, s *Scanner) ([]Token, error) {
//	    return s.Tokenize(src)
//	})
//
// # 错误语义
//
//   - 配置错误：New 立即返回（ErrInvalidCapacity、ErrInvalidProtectedRatio 等）
//   - 计算失败：错误原样返回给 Use，不写入条目，下次 Use 重新计算，不自动重试
//   - 回调失败：错误原样返回，pin 照常释放，条目保留
//   - 销毁失败：记录日志与统计，不返回给任何调用方
//
// # 注意事项
//
//   - 值在多个持有者之间只读共享，缓存不强制不可变性
//   - 禁止在 Compute 中对同一 key 调用 Use（会永久等待自身）
//   - Clear 返回后 Len() == 0，但被持有条目的销毁可能仍在等待
//   - 值可能在 Dispose 之后仍被调用方误持有的引用访问，这属于调用方契约
package xslru
