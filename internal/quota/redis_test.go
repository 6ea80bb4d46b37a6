package quota

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounter(t *testing.T) *Counter {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
	return NewCounter(client)
}

func TestHitCountsWithinWindow(t *testing.T) {
	c := newCounter(t)
	ctx := context.Background()
	fixed := time.Date(2025, 5, 1, 10, 20, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }
	key := "test:" + uuid.NewString()

	for want := int64(1); want <= 3; want++ {
		n, reset, err := c.Hit(ctx, key, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, n)
		assert.Equal(t, time.Date(2025, 5, 1, 11, 0, 0, 0, time.UTC), reset)
	}

	c.now = func() time.Time { return fixed.Add(time.Hour) }
	n, _, err := c.Hit(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, c.Ping(ctx))
}
