// Package distlock keeps scheduled sync passes single-flight across worker
// replicas. Redis is the preferred backend; without Redis the lock falls
// back to a PostgreSQL advisory lock on the same database that holds the
// cache tables.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a non-blocking distributed mutex. One instance serves one
// goroutine; replicas each create their own.
type Lock interface {
	// TryAcquire attempts to take the lock without waiting. True on success.
	TryAcquire(ctx context.Context) (bool, error)
	// Release gives the lock back if this instance still owns it.
	Release(ctx context.Context) error
}

// New picks the best available backend: Redis when a client is configured,
// otherwise a PG advisory lock. Both release automatically when the holder
// dies (TTL expiry / session drop), so a crashed worker never wedges the
// schedule.
func New(rdb *redis.Client, db *sql.DB, name string, ttl time.Duration) Lock {
	if rdb != nil {
		return NewRedisLock(rdb, name, ttl)
	}
	return NewAdvisoryLock(db, name)
}

// AdvisoryLock implements Lock with pg_try_advisory_lock. The lock is
// session-scoped: losing the connection releases it.
type AdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewAdvisoryLock derives a deterministic advisory lock id from the name.
func NewAdvisoryLock(db *sql.DB, name string) *AdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(name))
	return &AdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// TryAcquire attempts the advisory lock without blocking.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release unlocks the advisory lock.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
