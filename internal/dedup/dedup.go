// Package dedup absorbs provider webhook redeliveries. The provider retries
// aggressively and delivers at-least-once; a short-lived TTL cache of event
// signatures keeps duplicates from re-running side effects like sibling-leg
// termination or recording starts.
package dedup

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a process-scoped duplicate-event filter. Idempotent ledger writes
// remain the real correctness mechanism; this is a cheap first line.
type Cache struct {
	c *gocache.Cache
}

// New creates a Cache whose entries expire after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{c: gocache.New(ttl, 2*ttl)}
}

// Seen records the event signature and reports whether it was already
// present. The first caller for a signature gets false; concurrent and later
// callers within the TTL get true.
func (d *Cache) Seen(parts ...string) bool {
	key := strings.Join(parts, "|")
	// Add fails if the key already exists, which makes it a test-and-set.
	return d.c.Add(key, struct{}{}, gocache.DefaultExpiration) != nil
}
