package cache

import (
	"testing"
	"time"

	"github.com/smallbiznis/paydesk/internal/clock"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[string, int](clk)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %v %v", v, ok)
	}

	clk.Advance(time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected a to be expired")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Fatalf("entries without ttl must not expire")
	}
	if got := c.Values(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("unexpected live values: %v", got)
	}

	if evicted := c.Sweep(clk.Now()); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry after sweep, got %d", c.Len())
	}
}

func TestTTLCacheUpdateIsReadModifyWrite(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[string, int](clk)

	keepMax := func(v int) func(int, bool) int {
		return func(current int, found bool) int {
			if found && current > v {
				return current
			}
			return v
		}
	}

	c.Update("k", time.Hour, keepMax(5))
	if got := c.Update("k", time.Hour, keepMax(3)); got != 5 {
		t.Fatalf("expected max to be kept, got %d", got)
	}

	clk.Advance(2 * time.Hour)
	if got := c.Update("k", time.Hour, keepMax(3)); got != 3 {
		t.Fatalf("expired entries must not be seen by update, got %d", got)
	}
}

func TestTTLCacheValuesOrderedByStoreTime(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[string, string](clk)
	for _, key := range []string{"x", "y", "z"} {
		c.Set(key, key, 0)
		clk.Advance(time.Second)
	}
	got := c.Values()
	if len(got) != 3 || got[0] != "x" || got[2] != "z" {
		t.Fatalf("unexpected order: %v", got)
	}
}
