package cooldown

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Limiter backed by a Redis key per user. SET NX with a
// millisecond expiry gives the check-and-set in one command, so the window
// is measured by the Redis server clock rather than by now.
type Redis struct {
	client *redis.Client
	window time.Duration
	prefix string
}

// NewRedis creates a Redis limiter. A non-positive window uses DefaultWindow.
func NewRedis(client *redis.Client, window time.Duration, prefix string) *Redis {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{
		client: client,
		window: window,
		prefix: prefix,
	}
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, userID string, now time.Time) (bool, error) {
	key := r.prefix + userID
	ok, err := r.client.SetNX(ctx, key, strconv.FormatInt(now.UnixMilli(), 10), r.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set cooldown key: %w", err)
	}
	return ok, nil
}

// Cooling implements Limiter.
func (r *Redis) Cooling(ctx context.Context, userID string, _ time.Time) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cooldown key: %w", err)
	}
	return n > 0, nil
}

// Ping checks connectivity to the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
