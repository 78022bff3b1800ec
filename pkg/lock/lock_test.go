package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisLocker_ExclusiveAcquire(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	first := NewRedisLocker(rdb, 5*time.Second, logger.Nop())
	release, err := first.Acquire(ctx, "allocation:1")
	require.NoError(t, err)

	_, ok, err := first.TryAcquire(ctx, "allocation:1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	release()

	again, ok, err := first.TryAcquire(ctx, "allocation:1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestRedisLocker_ConflictWhenHeld(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	locker := NewRedisLocker(rdb, 10*time.Second, logger.Nop())
	release, err := locker.Acquire(ctx, "allocation:2")
	require.NoError(t, err)
	defer release()

	shortCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(shortCtx, "allocation:2")
	require.Error(t, err)
	if !errors.Is(err, errors.ErrConflict) {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}

func TestNop(t *testing.T) {
	release, err := Nop{}.Acquire(context.Background(), "anything")
	require.NoError(t, err)
	release()
}
