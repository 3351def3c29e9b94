package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client, "aiko:")
	l.poll = 5 * time.Millisecond
	return l, mr
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLocker(t)

	unlock, err := l.Lock(ctx, "thread-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("aiko:lock:thread-1"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("aiko:lock:thread-1"))
}

func TestRedisLocker_Contention(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLocker(t)

	unlock, err := l.Lock(ctx, "thread-1", time.Minute)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "thread-1", time.Minute)
	require.ErrorIs(t, err, ErrLockAcquire)

	require.NoError(t, unlock(ctx))

	unlock2, err := l.Lock(ctx, "thread-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_UnlockDoesNotReleaseForeignLock(t *testing.T) {
	ctx := context.Background()
	l, mr := newTestLocker(t)

	unlock, err := l.Lock(ctx, "thread-1", time.Second)
	require.NoError(t, err)

	// Lock expires and someone else takes it.
	mr.FastForward(2 * time.Second)
	unlockOther, err := l.Lock(ctx, "thread-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, unlock(ctx))
	assert.True(t, mr.Exists("aiko:lock:thread-1"), "stale holder released a lock it no longer owns")

	require.NoError(t, unlockOther(ctx))
}
