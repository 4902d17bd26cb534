package artifact

import (
	"container/list"
	"sync"
	"time"

	"github.com/couchcryptid/collision-forecast-service/internal/forecast"
)

// modelCache is a thread-safe LRU of decoded models keyed by cutoff date.
// Models are immutable, so cached pointers are shared between callers.
type modelCache struct {
	maxEntries int
	mu         sync.Mutex
	order      *list.List // front is most recently used
	entries    map[time.Time]*list.Element
}

type cacheEntry struct {
	cutoff time.Time
	model  *forecast.Model
}

func newModelCache(maxEntries int) *modelCache {
	return &modelCache{
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[time.Time]*list.Element),
	}
}

func (c *modelCache) get(cutoff time.Time) (*forecast.Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[cutoff]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).model, true
}

func (c *modelCache) put(cutoff time.Time, m *forecast.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[cutoff]; ok {
		el.Value.(*cacheEntry).model = m
		c.order.MoveToFront(el)
		return
	}

	c.entries[cutoff] = c.order.PushFront(&cacheEntry{cutoff: cutoff, model: m})
	if c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).cutoff)
	}
}

func (c *modelCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
