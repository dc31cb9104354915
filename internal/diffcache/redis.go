package diffcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries as JSON strings in redis, shared by every
// snitch process using the same server.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store over client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "snitch:diff:"}
}

func (r *RedisStore) makeKey(key string) string {
	return r.prefix + key
}

func (r *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, r.makeKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get diff: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("failed to unmarshal diff: %w", err)
	}
	return e, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal diff: %w", err)
	}
	if err := r.client.Set(ctx, r.makeKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set diff: %w", err)
	}
	return nil
}

func (r *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(Entry{Status: StatusRunning})
	if err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, r.makeKey(key), data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim diff: %w", err)
	}
	return ok, nil
}
