package cache

import (
	"testing"
	"time"
)

func TestGetMiss(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()
	if _, ok := c.Get("ws1", "model-a", "query"); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestSetGet(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()
	vec := []float32{0.1, 0.2, 0.3}
	c.Set("ws1", "model-a", "query", vec)
	got, ok := c.Get("ws1", "model-a", "query")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 3 || got[0] != 0.1 {
		t.Fatalf("got %v", got)
	}
}

func TestKeysIsolateWorkspaceAndModel(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()
	c.Set("ws1", "model-a", "query", []float32{1})
	if _, ok := c.Get("ws2", "model-a", "query"); ok {
		t.Fatal("cache leaked across workspaces")
	}
	if _, ok := c.Get("ws1", "model-b", "query"); ok {
		t.Fatal("cache leaked across models")
	}
}

func TestExpiry(t *testing.T) {
	c := New(time.Millisecond)
	defer c.Stop()
	c.Set("ws1", "model-a", "query", []float32{1})
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("ws1", "model-a", "query"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not evicted, len = %d", c.Len())
	}
}

func TestInvalidateWorkspace(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()
	c.Set("ws1", "model-a", "q1", []float32{1})
	c.Set("ws1", "model-a", "q2", []float32{2})
	c.Set("ws2", "model-a", "q1", []float32{3})
	c.InvalidateWorkspace("ws1")
	if _, ok := c.Get("ws1", "model-a", "q1"); ok {
		t.Fatal("ws1 entry survived invalidation")
	}
	if _, ok := c.Get("ws2", "model-a", "q1"); !ok {
		t.Fatal("ws2 entry lost to ws1 invalidation")
	}
}
