package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisLock implements Lock via SET NX with TTL. A random ownership value and
// a Lua release script prevent one process from releasing a lock that has
// expired and been re-acquired by another.
type redisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

func newRedisLock(client *redis.Client, key string, ttl time.Duration) *redisLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &redisLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

func (l *redisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
