package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/paydesk/internal/clock"
)

// Cache is a keyed store with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	// Update replaces the entry with fn(current, found) atomically and
	// returns the stored value.
	Update(key K, ttl time.Duration, fn func(current V, found bool) V) V
	Delete(key K)
	// Values returns live entries ordered by key insertion time, oldest first.
	Values() []V
	Sweep(now time.Time) int
	Len() int
}

type entry[V any] struct {
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// TTLCache is an in-memory Cache. A zero or negative ttl keeps the entry
// until it is deleted.
type TTLCache[K comparable, V any] struct {
	mu    sync.RWMutex
	clock clock.Clock
	items map[K]entry[V]
}

func NewTTLCache[K comparable, V any](clk clock.Clock) *TTLCache[K, V] {
	if clk == nil {
		clk = clock.New()
	}
	return &TTLCache[K, V]{
		clock: clk,
		items: make(map[K]entry[V]),
	}
}

func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok || item.expired(c.clock.Now()) {
		return zero, false
	}
	return item.value, true
}

func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	now := c.clock.Now()
	c.mu.Lock()
	c.items[key] = c.newEntry(value, now, ttl)
	c.mu.Unlock()
}

func (c *TTLCache[K, V]) Update(key K, ttl time.Duration, fn func(current V, found bool) V) V {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	current, found := c.items[key]
	if found && current.expired(now) {
		found = false
		current = entry[V]{}
	}
	next := fn(current.value, found)
	c.items[key] = c.newEntry(next, now, ttl)
	return next
}

func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *TTLCache[K, V]) Values() []V {
	now := c.clock.Now()
	c.mu.RLock()
	live := make([]entry[V], 0, len(c.items))
	for _, item := range c.items {
		if !item.expired(now) {
			live = append(live, item)
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(live, func(i, j int) bool {
		return live[i].storedAt.Before(live[j].storedAt)
	})
	values := make([]V, 0, len(live))
	for _, item := range live {
		values = append(values, item.value)
	}
	return values
}

func (c *TTLCache[K, V]) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, item := range c.items {
		if item.expired(now) {
			delete(c.items, key)
			evicted++
		}
	}
	return evicted
}

func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *TTLCache[K, V]) newEntry(value V, now time.Time, ttl time.Duration) entry[V] {
	item := entry[V]{value: value, storedAt: now}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	return item
}
