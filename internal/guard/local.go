package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLocker implements Locker with one buffered channel per key
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker creates a new LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		locks: make(map[string]chan struct{}),
	}
}

// Lock acquires key. ttl bounds the wait.
func (l *LocalLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	timer := time.NewTimer(ttl)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%s: %w", key, ErrLockTimeout)
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

// LocalSuppressor implements Suppressor in memory
type LocalSuppressor struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewLocalSuppressor creates a new LocalSuppressor
func NewLocalSuppressor() *LocalSuppressor {
	return &LocalSuppressor{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Claim holds key for window unless it is already held
func (s *LocalSuppressor) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[key] = now.Add(window)

	// Sweep expired keys so the map does not grow without bound.
	for k, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, k)
		}
	}
	return true, nil
}

// Release frees key
func (s *LocalSuppressor) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.expires, key)
	return nil
}

// LocalRateLimiter implements RateLimiter with a token bucket per key
type LocalRateLimiter struct {
	buckets *KeyedLimiter
}

// NewLocalRateLimiter allows limit events per window for each key, with bursts up to limit.
// window must be positive.
func NewLocalRateLimiter(limit int, window time.Duration) *LocalRateLimiter {
	return &LocalRateLimiter{
		buckets: NewKeyedLimiter(rate.Limit(float64(limit)/window.Seconds()), limit),
	}
}

// Allow reports whether an event for key may happen now
func (l *LocalRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.buckets.Allow(key), nil
}
