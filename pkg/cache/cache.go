package cache

import (
	"container/list"
	"sync"
)

// LRUCache 有界 LRU 缓存
//
// 超过容量时淘汰最久未使用的条目；读取会把条目提升为最近使用。
// 注意：TTL 不在这里处理——条目本身携带时间戳，由调用方判断新鲜度。
// 这样淘汰（容量）和过期（时间）是两个独立的策略。
type LRUCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	ll      *list.List // 头部 = 最久未使用，尾部 = 最近使用
	items   map[string]*list.Element

	hits   int64
	misses int64
}

type lruEntry[V any] struct {
	key   string
	value V
}

// Stats 缓存统计
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewLRUCache 创建新的 LRU 缓存
func NewLRUCache[V any](maxSize int) *LRUCache[V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &LRUCache[V]{
		maxSize: maxSize,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
	}
}

// Get 获取缓存值并提升为最近使用
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.ll.MoveToBack(elem)
	c.hits++
	return elem.Value.(*lruEntry[V]).value, true
}

// Set 写入缓存值，超过容量时淘汰最久未使用的条目
func (c *LRUCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*lruEntry[V]).value = value
		c.ll.MoveToBack(elem)
		return
	}

	elem := c.ll.PushBack(&lruEntry[V]{key: key, value: value})
	c.items[key] = elem

	if c.ll.Len() > c.maxSize {
		oldest := c.ll.Front()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry[V]).key)
		}
	}
}

// Contains 检查 key 是否存在（不提升使用顺序）
func (c *LRUCache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Delete 删除缓存项
func (c *LRUCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.ll.Remove(elem)
		delete(c.items, key)
	}
}

// Len 获取缓存大小
func (c *LRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Clear 清空缓存
func (c *LRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll = list.New()
	c.items = make(map[string]*list.Element)
}

// Values 按使用顺序返回所有值（最久未使用在前）
func (c *LRUCache[V]) Values() []V {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := make([]V, 0, c.ll.Len())
	for elem := c.ll.Front(); elem != nil; elem = elem.Next() {
		values = append(values, elem.Value.(*lruEntry[V]).value)
	}
	return values
}

// Stats 获取缓存统计
func (c *LRUCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	s := Stats{
		Size:    c.ll.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
