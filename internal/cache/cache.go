package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides coordination primitives backed by Redis: per-user
// single-flight locks and the advisory last-submission timestamp used for
// multi-send suppression. All data here is best-effort and rebuildable; the
// persisted user row stays the source of truth.
type Cache struct {
	client *redis.Client
}

// New creates a new cache instance
func New(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing Redis client (used in tests)
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// AcquireUserLock attempts to take the single-flight lock for a user.
// Returns false when another task for the same user is already in flight.
func (c *Cache) AcquireUserLock(ctx context.Context, userID int64, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:user:%d", userID)
	ok, err := c.client.SetNX(ctx, key, "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire user lock: %w", err)
	}

	return ok, nil
}

// ReleaseUserLock releases the single-flight lock for a user
func (c *Cache) ReleaseUserLock(ctx context.Context, userID int64) error {
	key := fmt.Sprintf("lock:user:%d", userID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release user lock: %w", err)
	}

	return nil
}

// GetLastSubmission returns the last recorded photo submission time for a
// user. A zero time with no error means no record exists.
func (c *Cache) GetLastSubmission(ctx context.Context, userID int64) (time.Time, error) {
	key := fmt.Sprintf("lastsent:%d", userID)
	val, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get last submission: %w", err)
	}

	return time.UnixMilli(val), nil
}

// SetLastSubmission records the submission time for a user
func (c *Cache) SetLastSubmission(ctx context.Context, userID int64, at time.Time, ttl time.Duration) error {
	key := fmt.Sprintf("lastsent:%d", userID)
	if err := c.client.Set(ctx, key, at.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set last submission: %w", err)
	}

	return nil
}

// ClaimSubmission atomically records a submission time if at least minGap has
// passed since the previous one. Returns false when the slot is still held.
// The check and the write run inside one Lua script so two concurrent photo
// events from the same user cannot both pass.
func (c *Cache) ClaimSubmission(ctx context.Context, userID int64, at time.Time, minGap, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lastsent:%d", userID)

	script := redis.NewScript(`
		local prev = redis.call('GET', KEYS[1])
		if prev and (tonumber(ARGV[1]) - tonumber(prev)) < tonumber(ARGV[2]) then
			return 0
		end
		redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
		return 1
	`)

	res, err := script.Run(ctx, c.client, []string{key},
		at.UnixMilli(), minGap.Milliseconds(), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to claim submission: %w", err)
	}

	return res == 1, nil
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
