package jwks

import (
	"crypto/rsa"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a resolved signing key stays usable.
const DefaultCacheTTL = 15 * time.Minute

// cacheEntry is a single signing key and when it was fetched
type cacheEntry struct {
	keyID     string
	publicKey *rsa.PublicKey
	fetchedAt time.Time
}

func (e *cacheEntry) isExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.fetchedAt) >= ttl
}

// CacheStats is a point-in-time view of the key cache.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// KeyCache holds signing keys by key id. Expired entries are evicted on the
// lookup that finds them expired.
type KeyCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	now     func() time.Time
	hits    uint64
	misses  uint64
}

// NewKeyCache creates a KeyCache whose entries live for ttl.
func NewKeyCache(ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &KeyCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the key for kid if present and not expired.
func (c *KeyCache) Get(kid string) (*rsa.PublicKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[kid]
	if !exists || entry.isExpired(c.now(), c.ttl) {
		c.misses++
		if exists {
			delete(c.entries, kid)
		}
		return nil, false
	}

	c.hits++
	return entry.publicKey, true
}

// Peek is Get without touching statistics or evicting.
func (c *KeyCache) Peek(kid string) (*rsa.PublicKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[kid]
	if !exists || entry.isExpired(c.now(), c.ttl) {
		return nil, false
	}
	return entry.publicKey, true
}

// Set stores key under kid, restarting its TTL.
func (c *KeyCache) Set(kid string, key *rsa.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[kid] = &cacheEntry{
		keyID:     kid,
		publicKey: key,
		fetchedAt: c.now(),
	}
}

// Invalidate drops every entry.
func (c *KeyCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
}

// Stats returns cache statistics
func (c *KeyCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
