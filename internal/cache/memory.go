package cache

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/any-hub/imagehub/internal/bitmap"
)

type memoryEntry struct {
	image *bitmap.Image
	cost  int64
}

// MemoryCache 是按成本计费的 LRU。costLimit<=0 表示不限成本，countLimit<=0 表示不限条数。
type MemoryCache struct {
	mu        sync.Mutex
	lru       *simplelru.LRU[string, memoryEntry]
	totalCost int64
	costLimit int64
}

func NewMemoryCache(costLimit int64, countLimit int) *MemoryCache {
	if countLimit <= 0 {
		countLimit = math.MaxInt32
	}
	m := &MemoryCache{costLimit: costLimit}
	// 只有 size<=0 时才会返回错误，这里不可能发生。
	lru, _ := simplelru.NewLRU[string, memoryEntry](countLimit, func(_ string, e memoryEntry) {
		m.totalCost -= e.cost
	})
	m.lru = lru
	return m
}

// Store 写入或替换条目，随后淘汰最久未用的条目直到总成本回到上限以内。
func (m *MemoryCache) Store(key string, img *bitmap.Image, cost int64) {
	if img == nil {
		return
	}
	if cost < 0 {
		cost = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	// 覆盖已有键不会触发淘汰回调，需要手动扣除旧成本。
	if old, ok := m.lru.Peek(key); ok {
		m.totalCost -= old.cost
	}
	m.lru.Add(key, memoryEntry{image: img, cost: cost})
	m.totalCost += cost

	for m.costLimit > 0 && m.totalCost > m.costLimit {
		if _, _, ok := m.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// Fetch 读取条目并将其标记为最近使用。
func (m *MemoryCache) Fetch(key string) (*bitmap.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false
	}
	return e.image, true
}

// Contains 判断是否存在，不影响淘汰顺序。
func (m *MemoryCache) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Contains(key)
}

func (m *MemoryCache) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key)
}

func (m *MemoryCache) RemoveAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Purge()
	m.totalCost = 0
}

// TotalCost 返回当前驻留条目的成本之和。
func (m *MemoryCache) TotalCost() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalCost
}

func (m *MemoryCache) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}
