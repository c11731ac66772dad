package build

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/pagegraph/internal/types"
)

// BuildCache caches transform results and file hashes with LRU eviction
// and TTL.
type BuildCache struct {
	entries     map[string]*CacheEntry
	mutex       sync.RWMutex
	maxSize     int64
	currentSize int64
	ttl         time.Duration
	// LRU implementation
	head *CacheEntry
	tail *CacheEntry
	// Statistics tracking (atomic for thread safety)
	hits      int64
	misses    int64
	sets      int64
	evictions int64
}

// CacheEntry represents a cached value
type CacheEntry struct {
	Key        string
	Value      []byte
	Hash       string
	CreatedAt  time.Time
	AccessedAt time.Time
	Size       int64
	prev       *CacheEntry
	next       *CacheEntry
}

// CacheStats is a point-in-time view of cache usage.
type CacheStats struct {
	Entries   int     `json:"entries"`
	Size      int64   `json:"size"`
	MaxSize   int64   `json:"maxSize"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hitRate"`
}

// NewBuildCache creates a new build cache
func NewBuildCache(maxSize int64, ttl time.Duration) *BuildCache {
	cache := &BuildCache{
		entries: make(map[string]*CacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}

	cache.head = &CacheEntry{}
	cache.tail = &CacheEntry{}
	cache.head.next = cache.tail
	cache.tail.prev = cache.head

	return cache
}

// Get retrieves a value from the cache
func (bc *BuildCache) Get(key string) ([]byte, bool) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	entry, ok := bc.lookup(key)
	if !ok {
		atomic.AddInt64(&bc.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&bc.hits, 1)
	return entry.Value, true
}

// Set stores a value in the cache
func (bc *BuildCache) Set(key string, value []byte) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	bc.store(key, value, key, int64(len(value)))
	atomic.AddInt64(&bc.sets, 1)
}

// GetHash retrieves a cached hash for a metadata key
func (bc *BuildCache) GetHash(key string) (string, bool) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	entry, ok := bc.lookup(key)
	if !ok {
		atomic.AddInt64(&bc.misses, 1)
		return "", false
	}

	atomic.AddInt64(&bc.hits, 1)
	return entry.Hash, true
}

// SetHash stores a hash in the cache with a metadata key
func (bc *BuildCache) SetHash(key string, hash string) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	bc.store(key, nil, hash, int64(len(key)+len(hash)))
}

// Delete removes key. It reports whether the key was present.
func (bc *BuildCache) Delete(key string) bool {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	entry, exists := bc.entries[key]
	if !exists {
		return false
	}
	bc.drop(entry)
	return true
}

// Clear clears all cache entries and resets statistics
func (bc *BuildCache) Clear() {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	bc.entries = make(map[string]*CacheEntry)
	bc.currentSize = 0
	bc.head.next = bc.tail
	bc.tail.prev = bc.head

	atomic.StoreInt64(&bc.hits, 0)
	atomic.StoreInt64(&bc.misses, 0)
	atomic.StoreInt64(&bc.sets, 0)
	atomic.StoreInt64(&bc.evictions, 0)
}

// Stats returns cache statistics
func (bc *BuildCache) Stats() CacheStats {
	bc.mutex.RLock()
	defer bc.mutex.RUnlock()

	hits := atomic.LoadInt64(&bc.hits)
	misses := atomic.LoadInt64(&bc.misses)
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}

	return CacheStats{
		Entries:   len(bc.entries),
		Size:      bc.currentSize,
		MaxSize:   bc.maxSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadInt64(&bc.evictions),
		HitRate:   rate,
	}
}

// cachedTransform is the serialized form of a loader result.
type cachedTransform struct {
	Code      string                       `json:"code"`
	SourceMap string                       `json:"sourceMap,omitempty"`
	Kind      types.LoaderKind             `json:"kind"`
	Deps      []types.DependencyDescriptor `json:"deps"`
}

// transformKey keys loader output by module URL and source hash. Two
// modules with identical bytes resolve imports differently, so the URL is
// part of the key.
func transformKey(url, sourceHash string) string {
	return "transform:" + url + "@" + sourceHash
}

// GetTransform returns a previously cached loader result.
func (bc *BuildCache) GetTransform(url, sourceHash string) (*TransformResult, bool) {
	data, ok := bc.Get(transformKey(url, sourceHash))
	if !ok {
		return nil, false
	}

	var cached cachedTransform
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}

	return &TransformResult{
		Code:      cached.Code,
		SourceMap: cached.SourceMap,
		Kind:      cached.Kind,
		Deps:      cached.Deps,
	}, true
}

// SetTransform caches a loader result.
func (bc *BuildCache) SetTransform(url, sourceHash string, result *TransformResult) {
	data, err := json.Marshal(cachedTransform{
		Code:      result.Code,
		SourceMap: result.SourceMap,
		Kind:      result.Kind,
		Deps:      result.Deps,
	})
	if err != nil {
		return
	}
	bc.Set(transformKey(url, sourceHash), data)
}

// lookup returns a live entry and marks it recently used. Callers hold
// the write lock.
func (bc *BuildCache) lookup(key string) (*CacheEntry, bool) {
	entry, exists := bc.entries[key]
	if !exists {
		return nil, false
	}

	if bc.ttl > 0 && time.Since(entry.CreatedAt) > bc.ttl {
		bc.drop(entry)
		return nil, false
	}

	bc.moveToFront(entry)
	entry.AccessedAt = time.Now()
	return entry, true
}

func (bc *BuildCache) store(key string, value []byte, hash string, size int64) {
	now := time.Now()

	if existing, exists := bc.entries[key]; exists {
		bc.currentSize += size - existing.Size
		existing.Value = value
		existing.Hash = hash
		existing.Size = size
		existing.CreatedAt = now
		existing.AccessedAt = now
		bc.moveToFront(existing)
		return
	}

	bc.evictIfNeeded(size)

	entry := &CacheEntry{
		Key:        key,
		Value:      value,
		Hash:       hash,
		CreatedAt:  now,
		AccessedAt: now,
		Size:       size,
	}
	bc.entries[key] = entry
	bc.currentSize += size
	bc.addToFront(entry)
}

// evictIfNeeded evicts entries if cache would exceed max size
func (bc *BuildCache) evictIfNeeded(newSize int64) {
	for bc.currentSize+newSize > bc.maxSize && bc.tail.prev != bc.head {
		bc.drop(bc.tail.prev)
		atomic.AddInt64(&bc.evictions, 1)
	}
}

func (bc *BuildCache) drop(entry *CacheEntry) {
	bc.removeFromList(entry)
	delete(bc.entries, entry.Key)
	bc.currentSize -= entry.Size
}

// LRU doubly-linked list operations
func (bc *BuildCache) addToFront(entry *CacheEntry) {
	entry.prev = bc.head
	entry.next = bc.head.next
	bc.head.next.prev = entry
	bc.head.next = entry
}

func (bc *BuildCache) removeFromList(entry *CacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (bc *BuildCache) moveToFront(entry *CacheEntry) {
	bc.removeFromList(entry)
	bc.addToFront(entry)
}
