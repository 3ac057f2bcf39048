package travellog

import (
	"sync"
	"time"
)

// CacheEntry is the last fetched view of one owner.
type CacheEntry struct {
	Owner     OwnerKey
	Records   []Record
	FetchedAt time.Time
}

// Age returns how old the entry is at now.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// Cache holds one entry per owner. Entries handed out are copies.
// This implementation is safe for concurrent use.
type Cache struct {
	clock   Clock
	mu      sync.Mutex
	entries map[OwnerKey]*CacheEntry
	stamps  map[OwnerKey]time.Time // last fetchedAt per owner, survives Invalidate
}

// NewCache creates an empty cache stamping entries with clock.
func NewCache(clock Clock) *Cache {
	return &Cache{
		clock:   clock,
		entries: make(map[OwnerKey]*CacheEntry),
		stamps:  make(map[OwnerKey]time.Time),
	}
}

// Get returns the owner's entry, if any.
func (c *Cache) Get(owner OwnerKey) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[owner]
	if !ok {
		return CacheEntry{}, false
	}
	return CacheEntry{Owner: e.Owner, Records: cloneRecords(e.Records), FetchedAt: e.FetchedAt}, true
}

// Put replaces the owner's entry and stamps it with the current time.
// fetchedAt strictly increases per owner even if the clock has not moved.
func (c *Cache) Put(owner OwnerKey, recs []Record) CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if last, ok := c.stamps[owner]; ok && !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	c.stamps[owner] = now

	e := &CacheEntry{Owner: owner, Records: cloneRecords(recs), FetchedAt: now}
	c.entries[owner] = e
	return CacheEntry{Owner: owner, Records: cloneRecords(e.Records), FetchedAt: now}
}

// IsStale reports whether the owner's entry is absent or older than maxAge.
func (c *Cache) IsStale(owner OwnerKey, maxAge time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[owner]
	if !ok {
		return true
	}
	return e.Age(c.clock.Now()) > maxAge
}

// Invalidate drops the owner's entry.
func (c *Cache) Invalidate(owner OwnerKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, owner)
}

// removeRecord drops one record from the owner's entry without touching
// fetchedAt.
func (c *Cache) removeRecord(owner OwnerKey, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[owner]
	if !ok {
		return
	}
	kept := make([]Record, 0, len(e.Records))
	for _, r := range e.Records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	e.Records = kept
}
