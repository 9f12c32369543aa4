package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) *RedisLocker {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l, err := NewRedisLocker(context.Background(), client, time.Second)
	require.NoError(t, err)
	return l
}

func lockers(t *testing.T) map[string]Locker {
	return map[string]Locker{
		"local": NewLocalLocker(),
		"redis": newRedisLocker(t),
	}
}

func TestTryLock_BusyKey(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			h, ok, err := l.TryLock(ctx, "session:1")
			require.NoError(t, err)
			require.True(t, ok)

			_, ok, err = l.TryLock(ctx, "session:1")
			require.NoError(t, err)
			assert.False(t, ok, "second lock on the same key must fail immediately")

			other, ok, err := l.TryLock(ctx, "session:2")
			require.NoError(t, err)
			assert.True(t, ok)
			require.NoError(t, other.Unlock(ctx))

			require.NoError(t, h.Unlock(ctx))

			h, ok, err = l.TryLock(ctx, "session:1")
			require.NoError(t, err)
			assert.True(t, ok)
			require.NoError(t, h.Unlock(ctx))
		})
	}
}

func TestTryLock_EmptyKey(t *testing.T) {
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			_, _, err := l.TryLock(context.Background(), " ")
			assert.ErrorIs(t, err, ErrEmptyKey)
		})
	}
}

func TestLocalLocker_DoubleUnlock(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	h, ok, err := l.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, h.Unlock(ctx))
	assert.ErrorIs(t, h.Unlock(ctx), ErrNotHeld)
	assert.Empty(t, l.locks)
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		inside   atomic.Int32
		acquired atomic.Int32
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, ok, err := l.TryLock(ctx, "session")
			if err != nil || !ok {
				return
			}
			acquired.Add(1)
			if inside.Add(1) != 1 {
				t.Error("two holders inside the critical section")
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			_ = h.Unlock(ctx)
		}()
	}
	wg.Wait()

	assert.Positive(t, acquired.Load())
	assert.Empty(t, l.locks)
}

func TestRedisLocker_HeldByAnotherNode(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	nodes := make([]*RedisLocker, 2)
	for i := range nodes {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		l, err := NewRedisLocker(ctx, client, time.Second)
		require.NoError(t, err)
		nodes[i] = l
	}

	h, ok, err := nodes[0].TryLock(ctx, "pos:1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = nodes[1].TryLock(ctx, "pos:1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, h.Unlock(ctx))

	h, ok, err = nodes[1].TryLock(ctx, "pos:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, h.Unlock(ctx))
}
