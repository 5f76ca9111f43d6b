package redisclient

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testLocker(t *testing.T) (Locker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSlotLocker(client, 2*time.Second), client
}

func TestWithSlotLockRunsCriticalSection(t *testing.T) {
	locker, _ := testLocker(t)

	ran := false
	err := locker.WithSlotLock(context.Background(), "doc:2025-03-10:09:00", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestWithSlotLockReleasesAfterRun(t *testing.T) {
	locker, client := testLocker(t)

	key := "doc:2025-03-10:09:00"
	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	// Lock key is gone, so a second acquisition succeeds.
	n, err := client.Exists(context.Background(), "lock:slot:"+key).Result()
	require.NoError(t, err)
	require.Zero(t, n)

	err = locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestWithSlotLockContentionFailsFast(t *testing.T) {
	locker, _ := testLocker(t)

	key := "doc:2025-03-10:09:00"
	inner := make(chan error, 1)

	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		// While held, a second caller must fail immediately.
		inner <- locker.WithSlotLock(ctx, key, func(ctx context.Context) error {
			t.Error("second critical section must not run")
			return nil
		})
		return nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, <-inner, ErrLockNotAcquired)
}

func TestWithSlotLockDifferentSlotsDoNotContend(t *testing.T) {
	locker, _ := testLocker(t)

	err := locker.WithSlotLock(context.Background(), "a:2025-03-10:09:00", func(ctx context.Context) error {
		return locker.WithSlotLock(ctx, "b:2025-03-10:09:00", func(ctx context.Context) error {
			return nil
		})
	})
	require.NoError(t, err)
}

func TestWithSlotLockPropagatesError(t *testing.T) {
	locker, client := testLocker(t)

	wantErr := context.DeadlineExceeded
	key := "doc:2025-03-10:09:00"

	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	// Lock still released on failure.
	n, err := client.Exists(context.Background(), "lock:slot:"+key).Result()
	require.NoError(t, err)
	require.Zero(t, n)
}
