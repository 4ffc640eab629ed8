package impression

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lurker:impressions:"

// RedisClient reads impressions another service writes into one hash per
// group, keyed by user id.
type RedisClient struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisClient {
	return &RedisClient{client: client}
}

func NewRedisFromAddr(addr, password string, db int) *RedisClient {
	return NewRedis(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func RedisKey(groupID string) string {
	return redisKeyPrefix + groupID
}

func (c *RedisClient) Impression(ctx context.Context, userID, groupID string) (Score, error) {
	value, err := c.client.HGet(ctx, RedisKey(groupID), userID).Float64()
	if errors.Is(err, redis.Nil) {
		return Score{}, fmt.Errorf("%w: no impression for %s", ErrUnavailable, userID)
	}
	if err != nil {
		return Score{}, fmt.Errorf("%w: redis: %v", ErrUnavailable, err)
	}
	return Score{Value: clamp(value), Available: true}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisClient) Close() error {
	return c.client.Close()
}
