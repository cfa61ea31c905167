package tokenizer

import "sync"

// wordCache is a fixed-size ring of merged words shared by concurrent
// encoders.
type wordCache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	index    int
	values   map[string][]string
}

func newWordCache(capacity int) *wordCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &wordCache{
		capacity: capacity,
		order:    make([]string, capacity),
		values:   make(map[string][]string, capacity),
	}
}

func (c *wordCache) get(key string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *wordCache) add(key string, pieces []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return
	}
	slot := c.index % c.capacity
	if old := c.order[slot]; old != "" {
		delete(c.values, old)
	}
	c.order[slot] = key
	c.values[key] = pieces
	c.index++
}

func (c *wordCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}
