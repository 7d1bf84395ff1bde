package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisListKey = "claimgate:review:queue"
	redisSeenKey = "claimgate:review:seen"
)

// Redis is the Queue for multi-instance deployments: every gateway pushes
// into the same list, every reviewer pops from it.
type Redis struct {
	client redis.Cmdable
}

// NewRedis creates a queue backed by an existing Redis client.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Enqueue(ctx context.Context, item Item) error {
	added, err := r.client.SAdd(ctx, redisSeenKey, item.ClaimID).Result()
	if err != nil {
		return fmt.Errorf("review: enqueue %s: %w", item.ClaimID, err)
	}
	if added == 0 {
		// Already queued.
		return nil
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("review: encode %s: %w", item.ClaimID, err)
	}
	if err := r.client.LPush(ctx, redisListKey, payload).Err(); err != nil {
		return fmt.Errorf("review: enqueue %s: %w", item.ClaimID, err)
	}
	return nil
}

func (r *Redis) Next(ctx context.Context) (*Item, error) {
	payload, err := r.client.RPop(ctx, redisListKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("review: pop: %w", err)
	}
	var item Item
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, fmt.Errorf("review: decode: %w", err)
	}
	if err := r.client.SRem(ctx, redisSeenKey, item.ClaimID).Err(); err != nil {
		return nil, fmt.Errorf("review: pop %s: %w", item.ClaimID, err)
	}
	return &item, nil
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.LLen(ctx, redisListKey).Result()
	if err != nil {
		return 0, fmt.Errorf("review: len: %w", err)
	}
	return int(n), nil
}
