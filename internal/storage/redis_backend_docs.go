package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// 从 redis_backend.go 拆分：健康条目、用量计数与配置文档操作

func (r *RedisBackend) healthHash() string {
	return r.prefix + "health"
}

func (r *RedisBackend) docsHash() string {
	return r.prefix + "configdocs"
}

// Health entry operations

func (r *RedisBackend) GetHealthEntry(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := r.client.HGet(ctx, r.healthHash(), key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, &ErrNotFound{Key: key}
		}
		return nil, err
	}
	return data, nil
}

func (r *RedisBackend) SetHealthEntry(ctx context.Context, key string, entry json.RawMessage) error {
	return r.client.HSet(ctx, r.healthHash(), key, []byte(entry)).Err()
}

func (r *RedisBackend) DeleteHealthEntry(ctx context.Context, key string) error {
	res, err := r.client.HDel(ctx, r.healthHash(), key).Result()
	if err != nil {
		return err
	}
	if res == 0 {
		return &ErrNotFound{Key: key}
	}
	return nil
}

func (r *RedisBackend) ListHealthEntries(ctx context.Context) (map[string]json.RawMessage, error) {
	data, err := r.client.HGetAll(ctx, r.healthHash()).Result()
	if err != nil {
		return nil, err
	}
	result := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		result[k] = json.RawMessage(v)
	}
	return result, nil
}

// Usage operations

func (r *RedisBackend) usageKey(key string) string {
	return r.prefix + "usage:" + key
}

// IncrementUsage increments a usage counter atomically
func (r *RedisBackend) IncrementUsage(ctx context.Context, key string, field string, delta int64) error {
	return r.client.HIncrBy(ctx, r.usageKey(key), field, delta).Err()
}

// GetUsage retrieves one usage counter hash
func (r *RedisBackend) GetUsage(ctx context.Context, key string) (map[string]int64, error) {
	data, err := r.client.HGetAll(ctx, r.usageKey(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &ErrNotFound{Key: key}
	}
	return parseCounterHash(data), nil
}

// ResetUsage clears one usage counter hash
func (r *RedisBackend) ResetUsage(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.usageKey(key)).Err()
}

// ListUsage lists all usage counter hashes
func (r *RedisBackend) ListUsage(ctx context.Context) (map[string]map[string]int64, error) {
	pattern := r.prefix + "usage:*"
	result := make(map[string]map[string]int64)
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		usageKey := strings.TrimPrefix(key, r.prefix+"usage:")
		data, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		result[usageKey] = parseCounterHash(data)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func parseCounterHash(data map[string]string) map[string]int64 {
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out
}

// Config document operations

func (r *RedisBackend) GetConfigDoc(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := r.client.HGet(ctx, r.docsHash(), key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, &ErrNotFound{Key: key}
		}
		return nil, err
	}
	return data, nil
}

func (r *RedisBackend) SetConfigDoc(ctx context.Context, key string, doc json.RawMessage) error {
	return r.client.HSet(ctx, r.docsHash(), key, []byte(doc)).Err()
}

func (r *RedisBackend) DeleteConfigDoc(ctx context.Context, key string) error {
	res, err := r.client.HDel(ctx, r.docsHash(), key).Result()
	if err != nil {
		return err
	}
	if res == 0 {
		return &ErrNotFound{Key: key}
	}
	return nil
}

func (r *RedisBackend) ListConfigDocs(ctx context.Context) (map[string]json.RawMessage, error) {
	data, err := r.client.HGetAll(ctx, r.docsHash()).Result()
	if err != nil {
		return nil, err
	}
	result := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		result[k] = json.RawMessage(v)
	}
	return result, nil
}
