package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"routecodex-go/internal/monitoring"
)

// RedisBackend implements Backend on a Redis instance. Credential states
// are plain keys; health entries and config docs live in hashes; usage
// counters use HINCRBY for atomic increments.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a new Redis storage backend
func NewRedisBackend(addr, password string, db int, prefix string) (*RedisBackend, error) {
	if prefix == "" {
		prefix = "routecodex:"
	}

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

	return &RedisBackend{
		client: client,
		prefix: prefix,
	}, nil
}

// Initialize tests the Redis connection
func (r *RedisBackend) Initialize(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisBackend) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Health checks redis availability
func (r *RedisBackend) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) stateKey(id string) string {
	return r.prefix + "credstate:" + id
}

// Credential state operations

func (r *RedisBackend) GetCredentialState(ctx context.Context, id string) (json.RawMessage, error) {
	data, err := r.client.Get(ctx, r.stateKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, &ErrNotFound{Key: id}
		}
		return nil, err
	}
	return data, nil
}

func (r *RedisBackend) SetCredentialState(ctx context.Context, id string, state json.RawMessage) error {
	return r.client.Set(ctx, r.stateKey(id), []byte(state), 0).Err()
}

func (r *RedisBackend) DeleteCredentialState(ctx context.Context, id string) error {
	res, err := r.client.Del(ctx, r.stateKey(id)).Result()
	if err != nil {
		return err
	}
	if res == 0 {
		return &ErrNotFound{Key: id}
	}
	return nil
}

func (r *RedisBackend) ListCredentialStates(ctx context.Context) (map[string]json.RawMessage, error) {
	pattern := r.prefix + "credstate:*"
	result := make(map[string]json.RawMessage)

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimPrefix(key, r.prefix+"credstate:")
		data, err := r.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		result[id] = data
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Batch operations

func (r *RedisBackend) BatchGetCredentialStates(ctx context.Context, ids []string) (map[string]json.RawMessage, error) {
	result := make(map[string]json.RawMessage, len(ids))
	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.Get(ctx, r.stateKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	for id, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		result[id] = data
	}
	return result, nil
}

func (r *RedisBackend) BatchSetCredentialStates(ctx context.Context, states map[string]json.RawMessage) error {
	pipe := r.client.Pipeline()
	for id, state := range states {
		pipe.Set(ctx, r.stateKey(id), []byte(state), 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisBackend) BatchDeleteCredentialStates(ctx context.Context, ids []string) error {
	pipe := r.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, r.stateKey(id))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// ExportData exports all data for backup
func (r *RedisBackend) ExportData(ctx context.Context) (*Export, error) {
	return exportDataCommon(ctx, "redis", r)
}

// ImportData imports data from backup
func (r *RedisBackend) ImportData(ctx context.Context, data *Export) error {
	return importDataCommon(ctx, r, data)
}

// PoolStats returns snapshot statistics about the Redis connection pool.
func (r *RedisBackend) PoolStats(ctx context.Context) (monitoring.StoragePoolStats, error) {
	if r.client == nil {
		return monitoring.StoragePoolStats{}, fmt.Errorf("redis client not initialized")
	}
	stats := r.client.PoolStats()
	active := int64(stats.TotalConns - stats.IdleConns)
	if active < 0 {
		active = 0
	}
	return monitoring.StoragePoolStats{
		Active: active,
		Idle:   int64(stats.IdleConns),
		Hits:   int64(stats.Hits),
		Misses: int64(stats.Misses),
	}, nil
}

// GetStorageStats returns storage statistics
func (r *RedisBackend) GetStorageStats(ctx context.Context) (StorageStats, error) {
	stats, err := storageStatsCommon(ctx, "redis", r)
	if err != nil {
		return stats, err
	}

	if info, err := r.client.Info(ctx, "clients").Result(); err == nil {
		stats.Details = map[string]interface{}{
			"redis_info": info,
		}
	}

	return stats, nil
}
