package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, ttl, wait time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedis(client, ttl, wait, zerolog.Nop())
	l.retry = time.Millisecond
	return l, mr
}

func TestRedis_LockAndRelease(t *testing.T) {
	l, mr := newRedisLocker(t, time.Minute, 50*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "sched:t:doctor:1:2026-10-16")
	require.NoError(t, err)
	assert.True(t, mr.Exists("sched:t:doctor:1:2026-10-16"))
	ttl := mr.TTL("sched:t:doctor:1:2026-10-16")
	assert.Equal(t, time.Minute, ttl)

	unlock()
	assert.False(t, mr.Exists("sched:t:doctor:1:2026-10-16"))
}

func TestRedis_SecondHolderTimesOut(t *testing.T) {
	l, _ := newRedisLocker(t, time.Minute, 20*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	_, err = l.Lock(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestRedis_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	l, mr := newRedisLocker(t, time.Second, 20*time.Millisecond)

	unlockOld, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("k"))

	unlockNew, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	unlockOld()
	assert.True(t, mr.Exists("k"), "old holder must not delete the new holder's key")

	unlockNew()
	assert.False(t, mr.Exists("k"))
}

func TestRedis_WaitsForRelease(t *testing.T) {
	l, _ := newRedisLocker(t, time.Minute, time.Second)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := make(chan struct{})
	go func() {
		defer wg.Done()
		u, err := l.Lock(context.Background(), "k")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	time.Sleep(10 * time.Millisecond)
	unlock()
	wg.Wait()

	select {
	case <-acquired:
	default:
		t.Fatal("waiter did not acquire the lock after release")
	}
}

func TestRedis_ConnectionError(t *testing.T) {
	l, mr := newRedisLocker(t, time.Minute, 20*time.Millisecond)
	mr.Close()

	_, err := l.Lock(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
}
