package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisUsagePrefix = "warp2api:usage:"

// RedisBackend stores usage counters in redis hashes, one hash per
// credential under the warp2api:usage: prefix.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to redis and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisBackend{client: client}, nil
}

func (r *RedisBackend) Increment(ctx context.Context, key, field string, delta int64) error {
	return r.client.HIncrBy(ctx, redisUsagePrefix+key, field, delta).Err()
}

func (r *RedisBackend) Set(ctx context.Context, key, field string, value int64) error {
	return r.client.HSet(ctx, redisUsagePrefix+key, field, value).Err()
}

func (r *RedisBackend) Get(ctx context.Context, key string) (map[string]int64, error) {
	data, err := r.client.HGetAll(ctx, redisUsagePrefix+key).Result()
	if err != nil {
		return nil, err
	}
	return parseCounters(data), nil
}

func (r *RedisBackend) List(ctx context.Context) (map[string]map[string]int64, error) {
	result := make(map[string]map[string]int64)
	iter := r.client.Scan(ctx, 0, redisUsagePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		hashKey := iter.Val()
		data, err := r.client.HGetAll(ctx, hashKey).Result()
		if err != nil {
			return nil, err
		}
		result[strings.TrimPrefix(hashKey, redisUsagePrefix)] = parseCounters(data)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *RedisBackend) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisUsagePrefix+key).Err()
}

func (r *RedisBackend) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func parseCounters(data map[string]string) map[string]int64 {
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, _ := strconv.ParseInt(v, 10, 64)
		out[k] = n
	}
	return out
}
