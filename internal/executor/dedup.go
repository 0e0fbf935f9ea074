package executor

import (
	"context"
	"sync"
	"time"
)

// Dedup remembers client order ids for a TTL so that a retried request is not
// submitted to the exchange twice by this process. It is safe for concurrent
// use.
type Dedup struct {
	seen map[string]time.Time // client order id -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats an id as a duplicate for ttl after it
// was first claimed.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim records id and reports true, or reports false when id was already
// claimed within the TTL.
func (d *Dedup) Claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if first, ok := d.seen[id]; ok && now.Sub(first) < d.ttl {
		return false
	}
	d.seen[id] = now
	return true
}

// Release forgets id so it can be claimed again. Used when a request fails
// before reaching the exchange.
func (d *Dedup) Release(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

// Len returns the number of tracked ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Run calls Cleanup every interval until ctx is done.
func (d *Dedup) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Cleanup()
		}
	}
}
