package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ipguard:ratelimit:"

var incrementScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisBackend shares counters between instances. The increment and the
// expiry are applied in one script so a counter never outlives its window.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Increment(ctx context.Context, key string, window time.Duration, windowStart time.Time) (int64, error) {
	if b == nil || b.client == nil {
		return 0, fmt.Errorf("ratelimit: redis client not configured")
	}

	redisKey := fmt.Sprintf("%s%s:%d:%d", redisKeyPrefix, key, window.Milliseconds(), windowStart.UnixMilli())
	ttl := window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}

	count, err := incrementScript.Run(ctx, b.client, []string{redisKey}, ttl).Int64()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: increment %s: %w", key, err)
	}
	return count, nil
}
