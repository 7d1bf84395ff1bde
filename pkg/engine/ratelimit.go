package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// LimiterStore abstracts the storage for rate limiting buckets. Keys are
// evidence source types; the per-minute rate comes from the active policy
// snapshot on every call, so a policy reload takes effect without rebuilding
// the store.
type LimiterStore interface {
	// Allow checks whether one proposal may draw on the keyed bucket.
	Allow(ctx context.Context, key string, ratePerMin int) (bool, error)
}

// MemoryLimiter is the single-instance LimiterStore.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*memBucket
}

type memBucket struct {
	lim        *rate.Limiter
	ratePerMin int
}

// NewMemoryLimiter creates an empty in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*memBucket)}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, ratePerMin int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || b.ratePerMin != ratePerMin {
		// New key, or the policy changed the rate: build a fresh bucket.
		burst := ratePerMin
		if burst < 1 {
			burst = 1
		}
		b = &memBucket{
			lim:        rate.NewLimiter(rate.Limit(float64(ratePerMin)/60.0), burst),
			ratePerMin: ratePerMin,
		}
		m.buckets[key] = b
	}
	return b.lim.Allow(), nil
}

// Reset drops all buckets. Wired to policy reload so rate changes apply
// immediately instead of after the old buckets drain.
func (m *MemoryLimiter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets = make(map[string]*memBucket)
}

// redisTokenBucketScript handles the token bucket algorithm atomically in
// Redis, for multi-instance deployments where every gateway must draw on the
// same per-source budget.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = current unix timestamp (seconds, microsecond precision)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 120)

return allowed
`)

// RedisLimiter implements LimiterStore using Redis.
type RedisLimiter struct {
	client redis.Cmdable
}

// NewRedisLimiter creates a limiter backed by an existing Redis client.
func NewRedisLimiter(client redis.Cmdable) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow executes the Lua script to check and update the token bucket.
func (s *RedisLimiter) Allow(ctx context.Context, key string, ratePerMin int) (bool, error) {
	perSec := float64(ratePerMin) / 60.0
	if perSec <= 0 {
		return true, nil
	}
	capacity := ratePerMin
	if capacity < 1 {
		capacity = 1
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, s.client, []string{"claimgate:limiter:" + key},
		perSec, capacity, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("redis limiter: unexpected script result %T", res)
	}
	return allowed == 1, nil
}
