package xslru

import "github.com/hashicorp/golang-lru/v2/simplelru"

// place 标识条目当前所在位置。
type place uint8

const (
	inProbation place = iota
	inProtected
	// detached 已离开两个分段：已被淘汰/清理，等待或已完成销毁。
	detached
)

func (p place) String() string {
	switch p {
	case inProbation:
		return "probation"
	case inProtected:
		return "protected"
	default:
		return "detached"
	}
}

// entry 是一个 key 的缓存条目。除 key/value 外，所有字段由 Cache.mu 保护。
type entry[K comparable, V any] struct {
	key   K
	value V

	// refs 是进行中的 Use 数量（pin 计数）。
	refs int
	// at 是条目所在分段。
	at place
	// disposed 表示销毁已被认领；置位后不会再次销毁。
	disposed bool
}

// segment 是一个按访问顺序排列的分段，头部为 LRU，尾部为 MRU。
//
// 设计决策: 底层 simplelru 的 size 设为整个缓存容量加 1（容纳待溢出的那一个），
// 分段上限由 limit 单独约束，
// 由 Cache 在持锁状态下显式溢出处理。这样 simplelru 永远不会自行淘汰，
// 被挤出的条目总能交还给 Cache 做降级或延迟销毁。
type segment[K comparable, V any] struct {
	lru   *simplelru.LRU[K, *entry[K, V]]
	limit int
}

func newSegment[K comparable, V any](size, limit int) (*segment[K, V], error) {
	lru, err := simplelru.NewLRU[K, *entry[K, V]](size, nil)
	if err != nil {
		return nil, err
	}
	return &segment[K, V]{lru: lru, limit: limit}, nil
}

// push 将条目放到 MRU 端。
func (s *segment[K, V]) push(e *entry[K, V]) {
	s.lru.Add(e.key, e)
}

// touch 将已存在的条目移动到 MRU 端。
func (s *segment[K, V]) touch(key K) {
	s.lru.Get(key)
}

func (s *segment[K, V]) peek(key K) (*entry[K, V], bool) {
	return s.lru.Peek(key)
}

func (s *segment[K, V]) remove(key K) {
	s.lru.Remove(key)
}

// overflow 在超出上限时弹出 LRU 端条目。
func (s *segment[K, V]) overflow() (*entry[K, V], bool) {
	if s.lru.Len() <= s.limit {
		return nil, false
	}
	_, e, ok := s.lru.RemoveOldest()
	return e, ok
}

func (s *segment[K, V]) len() int {
	return s.lru.Len()
}

// entries 返回从 LRU 到 MRU 的条目快照。
func (s *segment[K, V]) entries() []*entry[K, V] {
	return s.lru.Values()
}

// resize 调整分段上限与底层容量。调用方须保证 len() <= limit <= size。
func (s *segment[K, V]) resize(size, limit int) {
	s.limit = limit
	s.lru.Resize(size)
}

func (s *segment[K, V]) purge() {
	s.lru.Purge()
}
