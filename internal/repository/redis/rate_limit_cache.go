package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"admin-auth/internal/client"
	"admin-auth/internal/util"
)

const rateLimitPrefix = "rate_limit"

// Members carry a unique suffix so two hits in the same millisecond both count.
var slidingWindowScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

-- Remove expired entries
redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

local current_count = redis.call('ZCARD', key)
if current_count < limit then
    redis.call('ZADD', key, now, ARGV[5])
    redis.call('PEXPIRE', key, ARGV[4])
    return {1, current_count + 1}
end
return {0, current_count}
`)

// RateLimitCache shares login throttling across replicas.
type RateLimitCache struct {
	client *client.RedisClient
	limit  int
	window time.Duration
}

func NewRateLimitCache(rc *client.RedisClient, limit int, window time.Duration) *RateLimitCache {
	return &RateLimitCache{client: rc, limit: limit, window: window}
}

// Allow records a hit for key and reports whether it fits in the window.
func (c *RateLimitCache) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := c.SlidingWindowRateLimit(ctx, key, c.limit, c.window)
	return allowed, err
}

func (c *RateLimitCache) SlidingWindowRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now().UnixMilli()
	windowStart := now - window.Milliseconds()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	result, err := c.client.Eval(ctx, slidingWindowScript, []string{c.client.Key(rateLimitPrefix, key)},
		now, windowStart, limit, window.Milliseconds(), member)
	if err != nil {
		util.Error("Failed to execute sliding window rate limit",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("window", window),
			zap.Error(err))
		return false, 0, fmt.Errorf("failed to execute sliding window rate limit: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 2 {
		return false, 0, fmt.Errorf("unexpected result format from sliding window script")
	}

	allowedFlag, _ := resultSlice[0].(int64)
	currentCount, _ := resultSlice[1].(int64)

	util.Debug("Sliding window rate limit check",
		zap.String("key", key),
		zap.Bool("allowed", allowedFlag == 1),
		zap.Int64("current_count", currentCount),
		zap.Int("limit", limit))

	return allowedFlag == 1, int(currentCount), nil
}
