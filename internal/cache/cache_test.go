package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestMemoryCache_SetAndGet(t *testing.T) {
	c := NewMemory(time.Minute, 0)
	defer c.Stop()

	c.Set("key1", "value1")

	got, ok := c.Get("key1")
	if !ok {
		t.Error("Get() returned false for existing key")
	}
	if got != "value1" {
		t.Errorf("Get() = %v, want value1", got)
	}
}

func TestMemoryCache_Get_NotFound(t *testing.T) {
	c := NewMemory(time.Minute, 0)
	defer c.Stop()

	if got, ok := c.Get("nonexistent"); ok || got != nil {
		t.Errorf("Get() = (%v, %v), want (nil, false)", got, ok)
	}
}

func TestMemoryCache_Get_Expired(t *testing.T) {
	c := NewMemory(50*time.Millisecond, 0)
	defer c.Stop()

	c.Set("key1", "value1")

	if _, ok := c.Get("key1"); !ok {
		t.Error("Get() should return true for fresh key")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("key1"); ok {
		t.Error("Get() should return false for expired key")
	}
}

func TestMemoryCache_SetWithTTL(t *testing.T) {
	c := NewMemory(time.Minute, 0)
	defer c.Stop()

	c.SetWithTTL("key1", "value1", 50*time.Millisecond)

	if _, ok := c.Get("key1"); !ok {
		t.Error("Get() should return true for fresh key")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("key1"); ok {
		t.Error("Get() should return false after custom TTL expired")
	}
}

func TestMemoryCache_SetWithTTL_LongerThanDefault(t *testing.T) {
	c := NewMemory(50*time.Millisecond, 0)
	defer c.Stop()

	c.SetWithTTL("key1", "value1", time.Minute)

	time.Sleep(60 * time.Millisecond)

	if _, ok := c.Get("key1"); !ok {
		t.Error("Get() should return true when custom TTL hasn't expired")
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemory(time.Minute, 0)
	defer c.Stop()

	c.Set("key1", "value1")
	c.Delete("key1")

	if _, ok := c.Get("key1"); ok {
		t.Error("Get() should return false after Delete()")
	}

	// Deleting a missing key must not panic.
	c.Delete("nonexistent")
}

func TestMemoryCache_Clear(t *testing.T) {
	c := NewMemory(time.Minute, 0)
	defer c.Stop()

	c.Set("key1", "value1")
	c.Set("key2", "value2")
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear(), want 0", c.Len())
	}
}

func TestMemoryCache_BoundedSize(t *testing.T) {
	c := NewMemory(time.Minute, 10)
	defer c.Stop()

	for i := 0; i < 25; i++ {
		c.Set(fmt.Sprintf("key%d", i), i)
	}

	if c.Len() > 10 {
		t.Errorf("Len() = %d, bound is 10", c.Len())
	}

	// The most recent insert must survive eviction.
	if _, ok := c.Get("key24"); !ok {
		t.Error("most recently set key was evicted")
	}
}

func TestMemoryCache_EvictsClosestToExpiry(t *testing.T) {
	c := NewMemory(time.Minute, 2)
	defer c.Stop()

	c.SetWithTTL("short", "a", 10*time.Second)
	c.SetWithTTL("long", "b", 10*time.Minute)
	c.Set("new", "c") // forces eviction of "short"

	if _, ok := c.Get("short"); ok {
		t.Error("entry closest to expiry should have been evicted")
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("entry furthest from expiry should have survived")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("newly inserted entry missing")
	}
}

func TestMemoryCache_UpdateExistingKeyDoesNotEvict(t *testing.T) {
	c := NewMemory(time.Minute, 2)
	defer c.Stop()

	c.Set("key1", "a")
	c.Set("key2", "b")
	c.Set("key1", "a2") // overwrite, no eviction needed

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if got, _ := c.Get("key1"); got != "a2" {
		t.Errorf("Get(key1) = %v, want a2", got)
	}
}
