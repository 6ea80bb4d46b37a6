// Package quota counts requests per key in fixed windows stored in Redis.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pvh:quota:"

type Counter struct {
	client *redis.Client
	now    func() time.Time
}

func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client, now: time.Now}
}

// Hit increments the counter for key in the current window and returns the
// new count and the time the window resets.
func (c *Counter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := c.now()
	start := now.Truncate(window)
	reset := start.Add(window)
	redisKey := fmt.Sprintf("%s%s:%d", keyPrefix, key, start.Unix())

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireAt(ctx, redisKey, reset.Add(time.Minute))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, reset, fmt.Errorf("quota hit %s: %w", key, err)
	}
	return incr.Val(), reset, nil
}

func (c *Counter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
