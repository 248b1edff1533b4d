package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "user-1", time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
}

func TestLocalLocker_TimesOut(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "user-1", time.Second)
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(ctx, "user-1", 20*time.Millisecond)
	assert.True(t, errors.Is(err, ErrLockTimeout))

	other, err := locker.Lock(ctx, "user-2", 20*time.Millisecond)
	require.NoError(t, err, "different keys do not contend")
	other()
}

func TestLocalLocker_UnlockIsIdempotent(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)
	unlock()
	unlock()

	again, err := locker.Lock(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)
	again()
}

func TestLocalSuppressor_ClaimWindowAndRelease(t *testing.T) {
	s := NewLocalSuppressor()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := s.Claim(ctx, "k", 15*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.Claim(ctx, "k", 15*time.Minute)
	assert.False(t, ok, "held inside window")

	now = now.Add(16 * time.Minute)
	ok, _ = s.Claim(ctx, "k", 15*time.Minute)
	assert.True(t, ok, "window elapsed")

	require.NoError(t, s.Release(ctx, "k"))
	ok, _ = s.Claim(ctx, "k", 15*time.Minute)
	assert.True(t, ok, "released")
}

func TestLocalRateLimiter_Burst(t *testing.T) {
	limiter := NewLocalRateLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := limiter.Allow(ctx, "user-1")
	assert.False(t, ok)

	ok, _ = limiter.Allow(ctx, "user-2")
	assert.True(t, ok, "limits are per key")
}

func TestAlertDedupKey(t *testing.T) {
	session := "s-1"
	assert.Equal(t, "alert:dedup:u-1:s-1:heart_rate", AlertDedupKey("u-1", &session, "heart_rate"))
	assert.Equal(t, "alert:dedup:u-1:none:heart_rate", AlertDedupKey("u-1", nil, "heart_rate"))
}
