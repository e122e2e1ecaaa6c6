package vault

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerMutualExclusion(t *testing.T) {
	locker := NewMemoryLocker()
	key := ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "strava"}

	var mu sync.Mutex
	var active, maxActive int

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			unlock, err := locker.Lock(context.Background(), key)
			require.NoError(t, err)
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "at most one holder per key")
}

func TestMemoryLockerDifferentKeysDoNotBlock(t *testing.T) {
	locker := NewMemoryLocker()

	unlockA, err := locker.Lock(context.Background(), ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "strava"})
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockB, err := locker.Lock(ctx, ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "fitbit"})
	require.NoError(t, err)
	unlockB()
}

func TestMemoryLockerContextCanceled(t *testing.T) {
	locker := NewMemoryLocker()
	key := ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "strava"}

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The holder is unaffected and can still release.
	unlock()

	// And the key is lockable again afterwards.
	unlock, err = locker.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock()
}

func TestMemoryLockerReleasesEntries(t *testing.T) {
	locker := NewMemoryLocker()

	keys := []ConnectionKey{
		{TenantID: "t1", UserID: "u1", Provider: "strava"},
		{TenantID: "t1", UserID: "u2", Provider: "fitbit"},
		{TenantID: "t2", UserID: "u1", Provider: "whoop"},
	}
	for _, key := range keys {
		unlock, err := locker.Lock(context.Background(), key)
		require.NoError(t, err)
		unlock()
	}

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Empty(t, locker.locks, "released entries must not accumulate")
}

func TestAdvisoryLockIDStable(t *testing.T) {
	a := ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "strava"}
	b := ConnectionKey{TenantID: "t1", UserID: "u1", Provider: "strava"}

	assert.Equal(t, advisoryLockID(a), advisoryLockID(b))

	// The separator keeps ("t1","u1x") and ("t1x","u1") apart.
	c := ConnectionKey{TenantID: "t1", UserID: "u1x", Provider: "strava"}
	d := ConnectionKey{TenantID: "t1x", UserID: "u1", Provider: "strava"}
	assert.NotEqual(t, advisoryLockID(c), advisoryLockID(d))
}
