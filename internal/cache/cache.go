// Package cache provides the short-lived token resolver memo used on the
// proxy hot path. Entries evict themselves once at TTL expiry; lookups treat
// absence and expiry identically.
package cache

import (
	"sync"
	"time"

	"github.com/synapsr/proxywarp/internal/directory"
)

// Resolver memoises token → origin resolutions for a short TTL.
type Resolver struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	origin    directory.Entry
	expiresAt time.Time
	evict     *time.Timer
}

// New creates a resolver cache with the given entry TTL.
func New(ttl time.Duration) *Resolver {
	return &Resolver{
		ttl:     ttl,
		entries: make(map[string]*entry),
	}
}

func key(token string) string {
	return "token:" + token
}

// Get returns the cached origin for token, if present and unexpired.
func (r *Resolver) Get(token string) (directory.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key(token)]
	if !ok {
		return directory.Entry{}, false
	}
	if !time.Now().Before(e.expiresAt) {
		// The eviction callback has not run yet; drop it now.
		e.evict.Stop()
		delete(r.entries, key(token))
		return directory.Entry{}, false
	}
	return e.origin, true
}

// Put stores the origin for token, replacing any previous entry and arming a
// one-shot eviction at TTL expiry.
func (r *Resolver) Put(token string, origin directory.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	k := key(token)
	if old, ok := r.entries[k]; ok {
		old.evict.Stop()
	}

	e := &entry{
		origin:    origin,
		expiresAt: time.Now().Add(r.ttl),
	}
	e.evict = time.AfterFunc(r.ttl, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.entries[k]; ok && cur == e {
			delete(r.entries, k)
		}
	})
	r.entries[k] = e
}

// Len returns the number of live entries.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops all pending eviction timers.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for k, e := range r.entries {
		e.evict.Stop()
		delete(r.entries, k)
	}
}
