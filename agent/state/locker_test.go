package state

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_SerializesSameSession(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "s1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			_ = unlock(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, locker.size(), "lock entries should be released")
}

func TestLocalLocker_HonorsContext(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "s1")
	require.NoError(t, err)
	defer unlock(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locker.Lock(context.Background(), "s2")
	require.NoError(t, err, "different sessions must not contend")
	_ = other(context.Background())
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedisLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:s1"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:s1"))
}

func TestRedisLocker_ContentionAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer client.Close()

	replicaA := NewRedisLocker(client, "test:")
	replicaB := NewRedisLocker(client, "test:")
	ctx := context.Background()

	unlockA, err := replicaA.Lock(ctx, "shared")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = replicaB.Lock(waitCtx, "shared")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlockA(ctx))
	unlockB, err := replicaB.Lock(ctx, "shared")
	require.NoError(t, err)
	require.NoError(t, unlockB(ctx))
}
