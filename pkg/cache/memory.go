package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"callrelay-backend/pkg/logger"
)

// MemoryCache is an in-process TTL cache with an optional size bound
type MemoryCache[K comparable, V any] struct {
	mu      sync.Mutex
	data    map[K]*cacheEntry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
}

// NewMemoryCache creates a cache whose entries live for defaultTTL unless Set overrides it.
// maxSize <= 0 disables eviction.
func NewMemoryCache[K comparable, V any](defaultTTL time.Duration, maxSize int) *MemoryCache[K, V] {
	return &MemoryCache[K, V]{
		data:    make(map[K]*cacheEntry[V]),
		ttl:     defaultTTL,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Set stores value under key. ttl 0 uses the default TTL.
func (mc *MemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if ttl == 0 {
		ttl = mc.ttl
	}
	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictOldestLocked()
	}

	now := mc.now()
	mc.data[key] = &cacheEntry[V]{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}
}

// Get returns the live value stored under key
func (mc *MemoryCache[K, V]) Get(key K) (V, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, exists := mc.data[key]
	if !exists {
		var zero V
		return zero, false
	}
	if mc.now().After(entry.expiresAt) {
		delete(mc.data, key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Size returns the number of stored entries, expired ones included until cleanup
func (mc *MemoryCache[K, V]) Size() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	return len(mc.data)
}

func (mc *MemoryCache[K, V]) evictOldestLocked() {
	var (
		oldestKey  K
		oldestTime time.Time
		found      bool
	)
	for key, entry := range mc.data {
		if !found || entry.createdAt.Before(oldestTime) {
			oldestKey, oldestTime, found = key, entry.createdAt, true
		}
	}
	if found {
		delete(mc.data, oldestKey)
	}
}

func (mc *MemoryCache[K, V]) cleanupExpired() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	expired := 0
	for key, entry := range mc.data {
		if now.After(entry.expiresAt) {
			delete(mc.data, key)
			expired++
		}
	}
	return expired
}

// StartCleanup removes expired entries every interval until the returned stop function is called
func (mc *MemoryCache[K, V]) StartCleanup(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := mc.cleanupExpired(); n > 0 {
					logger.Debug("Expired cache entries cleaned up",
						zap.Int("count", n),
						zap.Int("remaining", mc.Size()))
				}
			case <-stop:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}
