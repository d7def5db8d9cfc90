package devicecode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisCodePrefix  = "dashborion:devicecode:"
	redisUserPrefix  = "dashborion:usercode:"
	redisTokenPrefix = "dashborion:token:"
)

// RedisStore persists device codes in Redis. Expiry is native: both the
// code record and its user-code index carry the same TTL, so there is
// nothing for a janitor to sweep.
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

// SaveCode upserts a code record and its user-code index.
func (s *RedisStore) SaveCode(ctx context.Context, code *Code) error {
	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal device code: %w", err)
	}

	ttl := time.Until(code.ExpiresAt.Add(retentionPastExpiry))
	if ttl <= 0 {
		return fmt.Errorf("device code is already past retention")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisCodePrefix+code.DeviceCodeHash, data, ttl)
	pipe.Set(ctx, redisUserPrefix+code.UserCode, code.DeviceCodeHash, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save failed: %w", err)
	}
	return nil
}

// GetByDeviceHash returns the record for a device-code hash.
func (s *RedisStore) GetByDeviceHash(ctx context.Context, hash string) (*Code, error) {
	data, err := s.client.Get(ctx, redisCodePrefix+hash).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var code Code
	if err := json.Unmarshal([]byte(data), &code); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device code: %w", err)
	}
	return &code, nil
}

// GetByUserCode returns the record for a user code.
func (s *RedisStore) GetByUserCode(ctx context.Context, userCode string) (*Code, error) {
	hash, err := s.client.Get(ctx, redisUserPrefix+userCode).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return s.GetByDeviceHash(ctx, hash)
}

// DeleteCode removes a record and its user-code index.
func (s *RedisStore) DeleteCode(ctx context.Context, hash string) error {
	code, err := s.GetByDeviceHash(ctx, hash)
	if err == ErrNotFound {
		return nil
	} else if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisCodePrefix+hash)
	pipe.Del(ctx, redisUserPrefix+code.UserCode)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// SaveToken persists an issued token hash with the token's own TTL.
func (s *RedisStore) SaveToken(ctx context.Context, rec *TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}

	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token is already expired")
	}

	if err := s.client.Set(ctx, redisTokenPrefix+rec.TokenHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
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
