package policy

import (
	"container/list"
	"sync"
	"time"

	"github.com/govgate/govgate/models"
)

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	scope      models.ScopePath
	resolved   []*models.ResolvedAssignment
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// AssignmentCache is an in-memory LRU cache with TTL for resolved
// assignments, keyed by the resource scope they were gathered for.
// Thread-safe implementation using sync.RWMutex
type AssignmentCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry // Key: ScopePath string
	lruList *list.List             // Doubly linked list for LRU tracking
	maxSize int                    // Maximum number of entries
	ttl     time.Duration          // Time-to-live for entries
	hits    uint64                 // Cache hit counter
	misses  uint64                 // Cache miss counter
}

// NewAssignmentCache creates a new AssignmentCache with specified max size and TTL
func NewAssignmentCache(maxSize int, ttl time.Duration) *AssignmentCache {
	return &AssignmentCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves resolved assignments for a scope from cache.
// Returns nil if not found or expired.
func (c *AssignmentCache) Get(scope models.ScopePath) []*models.ResolvedAssignment {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := string(scope)
	entry, exists := c.entries[keyStr]

	// Check if entry exists and is not expired
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			// Remove expired entry
			c.removeEntry(keyStr)
		}
		return nil
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.resolved
}

// Set stores resolved assignments for a scope in cache
func (c *AssignmentCache) Set(scope models.ScopePath, resolved []*models.ResolvedAssignment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keyStr := string(scope)

	// Check if entry already exists
	if entry, exists := c.entries[keyStr]; exists {
		// Update existing entry
		entry.resolved = resolved
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	// Evict least recently used entry if cache is full
	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	// Create new entry
	entry := &cacheEntry{
		scope:      scope,
		resolved:   resolved,
		insertedAt: time.Now(),
	}

	// Add to front of LRU list
	entry.element = c.lruList.PushFront(keyStr)
	c.entries[keyStr] = entry
}

// Invalidate removes the cache entry for an exact scope
func (c *AssignmentCache) Invalidate(scope models.ScopePath) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(string(scope))
}

// InvalidateCovered removes all cache entries whose key scope is at or
// below the given scope. An assignment created, updated or deleted at a
// scope affects the covering set of every descendant scope.
func (c *AssignmentCache) InvalidateCovered(scope models.ScopePath) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for keyStr, entry := range c.entries {
		if scope.Covers(entry.scope) {
			c.removeEntry(keyStr)
		}
	}
}

// InvalidatePolicy removes all cache entries containing an assignment
// that references the given definition ID. Definition changes affect
// every scope where such an assignment is in the covering set.
func (c *AssignmentCache) InvalidatePolicy(policyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for keyStr, entry := range c.entries {
		for _, ra := range entry.resolved {
			if ra.Assignment != nil && ra.Assignment.PolicyID == policyID {
				c.removeEntry(keyStr)
				break
			}
		}
	}
}

// Clear removes all entries from the cache
func (c *AssignmentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *AssignmentCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// calculateHitRate calculates the cache hit rate
func (c *AssignmentCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *AssignmentCache) removeEntry(keyStr string) {
	if entry, exists := c.entries[keyStr]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, keyStr)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *AssignmentCache) evictLRU() {
	if c.lruList.Len() == 0 {
		return
	}

	// Remove from back (least recently used)
	backElement := c.lruList.Back()
	if backElement != nil {
		keyStr := backElement.Value.(string)
		c.lruList.Remove(backElement)
		delete(c.entries, keyStr)
	}
}

// CleanupExpired removes all expired entries
// Should be called periodically in a background goroutine
func (c *AssignmentCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiredKeys := make([]string, 0)

	for keyStr, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			expiredKeys = append(expiredKeys, keyStr)
		}
	}

	for _, keyStr := range expiredKeys {
		c.removeEntry(keyStr)
	}

	return len(expiredKeys)
}

// StartCleanupWorker starts a background worker to periodically clean up expired entries
func (c *AssignmentCache) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}
