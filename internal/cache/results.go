package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubhsaxena/recipe-finder/internal/models"
	"github.com/shubhsaxena/recipe-finder/internal/observability"
)

// ResultCache is an in-process LRU of search results keyed by normalized
// query text. Entries expire after the TTL; Run sweeps them on an interval.
type ResultCache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List
	ttl        time.Duration
	maxEntries int
	logger     *zap.Logger
	now        func() time.Time
}

type resultItem struct {
	key   string
	entry models.CacheEntry
}

func NewResultCache(ttl time.Duration, maxEntries int, logger *zap.Logger) *ResultCache {
	return &ResultCache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger,
		now:        time.Now,
	}
}

// NormalizeKey is the cache key for a raw query: lower-cased and trimmed.
func NormalizeKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func (c *ResultCache) Get(query string) (*models.CacheEntry, bool) {
	key := NormalizeKey(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		observability.ResultCacheMisses.Inc()
		return nil, false
	}

	item := elem.Value.(*resultItem)
	if c.expired(item.entry.Timestamp) {
		c.remove(elem)
		observability.ResultCacheMisses.Inc()
		return nil, false
	}

	c.order.MoveToFront(elem)
	observability.ResultCacheHits.Inc()

	entry := item.entry
	entry.Results = append([]models.RecipeSummary(nil), item.entry.Results...)
	entry.Intent = item.entry.Intent.Clone()
	return &entry, true
}

func (c *ResultCache) Put(query string, entry models.CacheEntry) {
	key := NormalizeKey(query)
	entry.Timestamp = c.now()
	entry.Results = append([]models.RecipeSummary(nil), entry.Results...)
	entry.Intent = entry.Intent.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*resultItem).entry = entry
		c.order.MoveToFront(elem)
		return
	}

	if c.maxEntries > 0 && c.order.Len() >= c.maxEntries {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
		}
	}

	c.items[key] = c.order.PushFront(&resultItem{key: key, entry: entry})
	observability.ResultCacheEntries.Set(float64(c.order.Len()))
}

// Sweep drops every expired entry and returns how many were removed.
func (c *ResultCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*resultItem).entry.Timestamp) {
			c.remove(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Run sweeps the cache every interval until ctx is done.
func (c *ResultCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("result cache swept", zap.Int("removed", n), zap.Int("remaining", c.Len()))
			}
		}
	}
}

func (c *ResultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	observability.ResultCacheEntries.Set(0)
}

func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *ResultCache) expired(ts time.Time) bool {
	return c.now().Sub(ts) > c.ttl
}

// remove must be called with mu held.
func (c *ResultCache) remove(elem *list.Element) {
	item := c.order.Remove(elem).(*resultItem)
	delete(c.items, item.key)
	observability.ResultCacheEntries.Set(float64(c.order.Len()))
}
