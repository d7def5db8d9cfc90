package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "dashborion:session:"

// RedisStore persists session records in Redis with per-key expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store from a Redis URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Name identifies the backend for health and metrics labels.
func (s *RedisStore) Name() string {
	return "redis"
}

// Put upserts a record. The key expiry runs one day past logical expiry so
// the record stays visible for audit review.
func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	ttl := time.Until(rec.ExpiresAt.Add(retentionPastExpiry))
	if ttl <= 0 {
		return fmt.Errorf("session record is already past retention")
	}

	if err := s.client.Set(ctx, redisKeyPrefix+rec.SessionHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get returns the record for a session hash, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, sessionHash string) (*Record, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+sessionHash).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		// Corrupt data is unrecoverable; drop it so the session re-auths.
		s.client.Del(ctx, redisKeyPrefix+sessionHash)
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}

	rec.SessionHash = sessionHash
	return &rec, nil
}

// Delete removes a record. Absent records are not an error.
func (s *RedisStore) Delete(ctx context.Context, sessionHash string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+sessionHash).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Ping verifies backend connectivity for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
