package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it holds the caller's key. A
// missing lock counts as released.
const releaseScript = `
	local v = redis.call("GET", KEYS[1])
	if not v then
		return 1
	end
	if v == ARGV[1] then
		redis.call("DEL", KEYS[1])
		return 1
	end
	return 0
`

// refreshScript extends the lock's expiry only if it still holds the
// caller's key.
const refreshScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return 0
`

// RedisLocker keeps locks as redis keys. An open lock is an absent key.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisLocker creates a locker over client. A positive ttl expires
// locks abandoned by crashed syncs; With keeps a held lock alive by
// refreshing it every third of the ttl. now defaults to time.Now.
func NewRedisLocker(client *redis.Client, ttl time.Duration, now func() time.Time) *RedisLocker {
	if now == nil {
		now = time.Now
	}
	return &RedisLocker{client: client, ttl: ttl, now: now}
}

func (l *RedisLocker) makeKey(account, name string) string {
	return fmt.Sprintf("snitch:lock:%s", identity(account, name))
}

func (l *RedisLocker) Acquire(ctx context.Context, account, name string) (int64, error) {
	key := l.now().UnixMilli()
	ok, err := l.client.SetNX(ctx, l.makeKey(account, name), strconv.FormatInt(key, 10), l.ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("%s: %w", identity(account, name), ErrEnvironmentLocked)
	}
	return key, nil
}

func (l *RedisLocker) Release(ctx context.Context, account, name string, key int64) (bool, error) {
	res, err := l.client.Eval(ctx, releaseScript, []string{l.makeKey(account, name)}, strconv.FormatInt(key, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to execute release script: %w", err)
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected return type from release script: %T", res)
	}
	return n == 1, nil
}

// RefreshInterval implements Refresher.
func (l *RedisLocker) RefreshInterval() time.Duration {
	if l.ttl <= 0 {
		return 0
	}
	return l.ttl / 3
}

// Refresh resets the expiry of a lock still holding key. It reports false
// when the lock expired or was taken by someone else.
func (l *RedisLocker) Refresh(ctx context.Context, account, name string, key int64) (bool, error) {
	res, err := l.client.Eval(ctx, refreshScript, []string{l.makeKey(account, name)},
		strconv.FormatInt(key, 10), l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to execute refresh script: %w", err)
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected return type from refresh script: %T", res)
	}
	return n == 1, nil
}
