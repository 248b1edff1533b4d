package guard

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// minIdleTTL is the shortest time an unused limiter is kept
const minIdleTTL = time.Minute

type keyedEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key and forgets buckets that have
// been idle long enough to refill completely, so dropping them changes nothing.
type KeyedLimiter struct {
	mu        sync.Mutex
	entries   map[string]*keyedEntry
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewKeyedLimiter allows limit events per second per key with the given burst
func NewKeyedLimiter(limit rate.Limit, burst int) *KeyedLimiter {
	if burst <= 0 {
		burst = 1
	}
	idle := minIdleTTL
	if limit > 0 {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &KeyedLimiter{
		entries: make(map[string]*keyedEntry),
		limit:   limit,
		burst:   burst,
		idleTTL: idle,
		now:     time.Now,
	}
}

// Allow reports whether an event for key may happen now
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	k.sweep(now)

	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *KeyedLimiter) sweep(now time.Time) {
	if now.Sub(k.lastSweep) < k.idleTTL {
		return
	}
	k.lastSweep = now
	for key, e := range k.entries {
		if now.Sub(e.lastSeen) >= k.idleTTL {
			delete(k.entries, key)
		}
	}
}
