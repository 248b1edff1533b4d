// Package guard provides the coordination primitives used around ingestion:
// per-user locks, alert suppression windows and request rate limits. Each
// primitive has a Redis implementation for multi-instance deployments and an
// in-process one for single-instance and test setups.
package guard

import (
	"context"
	"errors"
	"time"
)

// ErrLockTimeout is returned when a lock could not be acquired in time
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Locker serializes work on a key
type Locker interface {
	// Lock blocks until key is held or ctx is done. The returned function releases it.
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Suppressor claims a key for a window, so repeated events inside the window are dropped
type Suppressor interface {
	// Claim returns true when the key was free and is now held for window
	Claim(ctx context.Context, key string, window time.Duration) (bool, error)
	// Release frees the key before its window ends
	Release(ctx context.Context, key string) error
}

// RateLimiter admits a bounded number of events per key
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// SessionLockKey is the lock key serializing session lifecycle changes for a user
func SessionLockKey(userID string) string {
	return "monitoring:session-lock:" + userID
}

// AlertDedupKey identifies a (user, session, data type) alert condition
func AlertDedupKey(userID string, sessionID *string, dataType string) string {
	session := "none"
	if sessionID != nil {
		session = *sessionID
	}
	return "alert:dedup:" + userID + ":" + session + ":" + dataType
}
