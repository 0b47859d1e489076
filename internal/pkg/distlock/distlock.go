// Package distlock provides the single-flight guard that serializes broadcast
// runs for the same template across processes.
//
// Two backends are supported: Redis SET NX with TTL (preferred when a Redis
// client is configured) and PostgreSQL advisory locks as a fallback. Advisory
// locks are session scoped, so a crashed holder releases the lock when its
// connection drops, mirroring Redis TTL expiry.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a non-blocking, single-owner lock.
// A Lock instance is for one acquire/release cycle from one goroutine.
type Lock interface {
	// Acquire tries to take the lock. Returns false if another run holds it.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this instance still owns it.
	Release(ctx context.Context) error
}

// New creates a lock for the given key using the best available backend.
func New(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) Lock {
	if redisClient != nil {
		return newRedisLock(redisClient, key, ttl)
	}
	return newAdvisoryLock(db, key)
}

// advisoryLock implements Lock with pg_try_advisory_lock/pg_advisory_unlock.
type advisoryLock struct {
	db     *sql.DB
	lockID int64
}

func newAdvisoryLock(db *sql.DB, key string) *advisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &advisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *advisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

func (l *advisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
