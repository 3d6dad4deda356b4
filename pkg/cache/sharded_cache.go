package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Entry is a cached price point with its provenance.
type Entry struct {
	Price     float64
	Source    string
	FetchedAt time.Time
}

// ShardedPriceCache is a sharded TTL cache for token prices. Entries older
// than the configured TTL are treated as absent on read.
type ShardedPriceCache struct {
	ttl    time.Duration
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]Entry
}

// NewShardedPriceCache creates a new sharded cache with the given TTL.
func NewShardedPriceCache(ttl time.Duration) *ShardedPriceCache {
	c := &ShardedPriceCache{ttl: ttl}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{
			items: make(map[string]Entry),
		}
	}
	return c
}

// getShard returns the shard for the given key.
func (c *ShardedPriceCache) getShard(key string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a price for a token mint.
func (c *ShardedPriceCache) Set(mint string, price float64, source string) {
	shard := c.getShard(mint)
	shard.mu.Lock()
	shard.items[mint] = Entry{
		Price:     price,
		Source:    source,
		FetchedAt: time.Now(),
	}
	shard.mu.Unlock()
}

// Get retrieves a fresh entry for a mint. Stale entries are not returned.
func (c *ShardedPriceCache) Get(mint string) (Entry, bool) {
	shard := c.getShard(mint)
	shard.mu.RLock()
	entry, ok := shard.items[mint]
	shard.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}
	if c.ttl > 0 && time.Since(entry.FetchedAt) > c.ttl {
		return Entry{}, false
	}
	return entry, true
}

// Delete removes a mint from the cache.
func (c *ShardedPriceCache) Delete(mint string) {
	shard := c.getShard(mint)
	shard.mu.Lock()
	delete(shard.items, mint)
	shard.mu.Unlock()
}

// Len returns total items across all shards, including stale ones.
func (c *ShardedPriceCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries past the TTL and returns how many were dropped.
func (c *ShardedPriceCache) Cleanup() int {
	if c.ttl <= 0 {
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-c.ttl)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for mint, entry := range shard.items {
			if entry.FetchedAt.Before(cutoff) {
				delete(shard.items, mint)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Stats provides cache statistics for the status endpoint.
type Stats struct {
	TotalItems int           `json:"total_items"`
	OldestAge  time.Duration `json:"oldest_age"`
}

// Snapshot returns cache statistics.
func (c *ShardedPriceCache) Snapshot() Stats {
	stats := Stats{}
	var oldest time.Time

	for _, shard := range c.shards {
		shard.mu.RLock()
		stats.TotalItems += len(shard.items)
		for _, entry := range shard.items {
			if oldest.IsZero() || entry.FetchedAt.Before(oldest) {
				oldest = entry.FetchedAt
			}
		}
		shard.mu.RUnlock()
	}

	if !oldest.IsZero() {
		stats.OldestAge = time.Since(oldest)
	}
	return stats
}
