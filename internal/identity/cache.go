package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"appview/pkg/domain"
)

const defaultCacheSize = 100_000

// Entry is a cached resolution of a DID to its origin endpoint.
type Entry struct {
	DID        domain.DID    `json:"did"`
	Endpoint   string        `json:"endpoint"`
	ResolvedAt time.Time     `json:"resolved_at"`
	TTL        time.Duration `json:"ttl"`
}

// ExpiresAt returns the instant after which the entry must not be served.
func (e Entry) ExpiresAt() time.Time {
	return e.ResolvedAt.Add(e.TTL)
}

// Expired reports whether the entry is past its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// SharedCache is a cache tier shared between processes. It is consulted only
// after a local miss.
type SharedCache interface {
	Get(ctx context.Context, did domain.DID) (Entry, bool, error)
	Set(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, did domain.DID) error
}

// MemoryCache is a bounded in-process cache. Reads never block on I/O.
type MemoryCache struct {
	entries *lru.Cache[domain.DID, Entry]
	clock   clock.Clock
}

// NewMemoryCache creates a cache holding at most size entries.
func NewMemoryCache(size int, clk clock.Clock) (*MemoryCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	if clk == nil {
		clk = clock.New()
	}
	entries, err := lru.New[domain.DID, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("create identity cache: %w", err)
	}
	return &MemoryCache{entries: entries, clock: clk}, nil
}

// Get returns the live entry for did. Expired entries are evicted on read.
func (c *MemoryCache) Get(did domain.DID) (Entry, bool) {
	entry, ok := c.entries.Get(did)
	if !ok {
		return Entry{}, false
	}
	if entry.Expired(c.clock.Now()) {
		c.entries.Remove(did)
		return Entry{}, false
	}
	return entry, true
}

// Put stores entry, replacing any previous entry for the same DID.
func (c *MemoryCache) Put(entry Entry) {
	c.entries.Add(entry.DID, entry)
}

// Invalidate drops the entry for did.
func (c *MemoryCache) Invalidate(did domain.DID) {
	c.entries.Remove(did)
}

// Len returns the number of entries, including ones that expired but were not yet read.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
