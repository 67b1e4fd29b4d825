package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, "lock:test", time.Minute), mr
}

func TestWithLockRunsAndReleases(t *testing.T) {
	locker, mr := newTestLocker(t)

	called := false
	err := locker.WithLock(context.Background(), "sweep", func(ctx context.Context) error {
		called = true
		assert.True(t, mr.Exists("lock:test:sweep"))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, mr.Exists("lock:test:sweep"))
}

func TestWithLockHeldElsewhere(t *testing.T) {
	locker, mr := newTestLocker(t)
	require.NoError(t, mr.Set("lock:test:sweep", "other-process"))

	err := locker.WithLock(context.Background(), "sweep", func(ctx context.Context) error {
		t.Fatal("fn must not run while the lock is held")
		return nil
	})

	assert.ErrorIs(t, err, ErrLockNotAcquired)
	got, _ := mr.Get("lock:test:sweep")
	assert.Equal(t, "other-process", got, "foreign lock must not be released")
}

func TestWithLockPropagatesError(t *testing.T) {
	locker, mr := newTestLocker(t)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "sweep", func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:test:sweep"))
}
