package cache

import (
	"testing"
	"time"
)

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3) // evicts a

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if v, ok := c.Get("b"); !ok || v != 2 {
		t.Errorf("b = %d/%v, want 2/true", v, ok)
	}
	if c.Size() != 2 {
		t.Errorf("size = %d, want 2", c.Size())
	}
}

func TestLRURecencyOnGet(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")    // a becomes most recent
	c.Set("c", 3) // evicts b

	if _, ok := c.Get("a"); !ok {
		t.Error("recently read entry should survive eviction")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry should be gone")
	}
}

func TestLRUTTL(t *testing.T) {
	c := NewLRUCache[string](10, 10*time.Millisecond)
	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("expired entry should not be returned")
	}
	c.Set("k", "v")
	time.Sleep(20 * time.Millisecond)
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired = %d, want 1", n)
	}
}

func TestLRUDelete(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("k", 1)
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Error("deleted entry should be gone")
	}
	c.Delete("missing") // no-op
}
