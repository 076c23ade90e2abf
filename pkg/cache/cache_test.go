package cache

import "testing"

// TestLRUCache_EvictOldest 测试超过容量时淘汰最久未使用的条目
func TestLRUCache_EvictOldest(t *testing.T) {
	c := NewLRUCache[int](3)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Set("d", 4) // 应该淘汰 a

	if c.Len() != 3 {
		t.Fatalf("期望缓存大小为 3，得到 %d", c.Len())
	}
	if c.Contains("a") {
		t.Error("a 应该已被淘汰")
	}
	for _, key := range []string{"b", "c", "d"} {
		if !c.Contains(key) {
			t.Errorf("%s 应该还在缓存中", key)
		}
	}
}

// TestLRUCache_GetPromotes 测试读取会把条目提升为最近使用
func TestLRUCache_GetPromotes(t *testing.T) {
	c := NewLRUCache[int](3)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// 读取 a，把它提升为最近使用
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("期望读到 a=1，得到 %d, %v", v, ok)
	}

	c.Set("d", 4) // 现在最久未使用的是 b

	if !c.Contains("a") {
		t.Error("a 被读取后不应该被淘汰")
	}
	if c.Contains("b") {
		t.Error("b 应该已被淘汰")
	}
}

// TestLRUCache_SetExistingPromotes 测试重复写入会更新值并提升使用顺序
func TestLRUCache_SetExistingPromotes(t *testing.T) {
	c := NewLRUCache[int](2)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // 更新 a 并提升
	c.Set("c", 3)  // 应该淘汰 b

	if v, ok := c.Get("a"); !ok || v != 10 {
		t.Errorf("期望 a=10，得到 %d, %v", v, ok)
	}
	if c.Contains("b") {
		t.Error("b 应该已被淘汰")
	}
}

// TestLRUCache_Stats 测试命中/未命中统计
func TestLRUCache_Stats(t *testing.T) {
	c := NewLRUCache[string](10)

	c.Set("k", "v")
	c.Get("k")       // hit
	c.Get("missing") // miss

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("期望 hits=1 misses=1，得到 hits=%d misses=%d", s.Hits, s.Misses)
	}
	if s.HitRate != 0.5 {
		t.Errorf("期望命中率 0.5，得到 %f", s.HitRate)
	}
}

// TestLRUCache_Values 测试按使用顺序返回所有值
func TestLRUCache_Values(t *testing.T) {
	c := NewLRUCache[int](3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a 变为最近使用

	values := c.Values()
	if len(values) != 2 {
		t.Fatalf("期望 2 个值，得到 %d", len(values))
	}
	if values[0] != 2 || values[1] != 1 {
		t.Errorf("期望顺序 [2 1]（最久未使用在前），得到 %v", values)
	}
}
