// Package cache provides in-memory embedding caching for the query path.
package cache

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// EmbeddingCache caches query embeddings by (workspaceID, model, text).
// Thread-safe via sync.RWMutex. Entries auto-expire after TTL.
type EmbeddingCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	stopCh  chan struct{}
}

type cacheEntry struct {
	vector    []float32
	createdAt time.Time
	expiresAt time.Time
}

// New creates an EmbeddingCache with the given TTL and starts background
// cleanup.
func New(ttl time.Duration) *EmbeddingCache {
	c := &EmbeddingCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns a cached embedding if present and not expired.
func (c *EmbeddingCache) Get(workspaceID, model, text string) ([]float32, bool) {
	key := cacheKey(workspaceID, model, text)
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	slog.Info("[CACHE] hit",
		"workspace_id", workspaceID,
		"text_hash", key[strings.LastIndex(key, ":")+1:],
		"age_ms", time.Since(entry.createdAt).Milliseconds(),
	)
	return entry.vector, true
}

// Set stores an embedding in the cache.
func (c *EmbeddingCache) Set(workspaceID, model, text string, vector []float32) {
	key := cacheKey(workspaceID, model, text)
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		vector:    vector,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()

	slog.Info("[CACHE] set",
		"workspace_id", workspaceID,
		"text_hash", key[strings.LastIndex(key, ":")+1:],
		"ttl_s", int(c.ttl.Seconds()),
		"total_entries", c.Len(),
	)
}

// InvalidateWorkspace removes all cached entries for a workspace.
// Call this when documents are deleted or re-indexed.
func (c *EmbeddingCache) InvalidateWorkspace(workspaceID string) {
	prefix := "ec:" + workspaceID + ":"
	c.mu.Lock()
	count := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			count++
		}
	}
	c.mu.Unlock()

	if count > 0 {
		slog.Info("[CACHE] invalidated workspace",
			"workspace_id", workspaceID,
			"entries_removed", count,
		)
	}
}

// Len returns the number of entries in the cache.
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop halts the background cleanup goroutine.
func (c *EmbeddingCache) Stop() {
	close(c.stopCh)
}

// cleanup removes expired entries every 5 minutes.
func (c *EmbeddingCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			before := len(c.entries)
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			after := len(c.entries)
			c.mu.Unlock()
			if before != after {
				slog.Info("[CACHE] cleanup", "removed", before-after, "remaining", after)
			}
		case <-c.stopCh:
			return
		}
	}
}

// cacheKey builds a deterministic key: "ec:{workspaceID}:{model}:{sha256(text)}"
func cacheKey(workspaceID, model, text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("ec:%s:%s:%x", workspaceID, model, h[:8])
}
