package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when the lease is already owned by another run.
var ErrLockHeld = errors.New("lock already held")

// releaseScript deletes the lease only if the caller still owns it, so a
// run that outlived its TTL cannot release a lease re-acquired by another.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock serializes settlement runs with a Redis SETNX lease. Concurrent
// runs over the same billing type share candidate parties, so they must be
// mutually exclusive; runs over different billing types never conflict.
type RunLock struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRunLock builds a lock with the given lease TTL.
func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RunLock{client: client, ttl: ttl}
}

// Acquire takes the lease for key, returning a release func. ErrLockHeld is
// returned when another holder owns the lease.
func (l *RunLock) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		// No Redis, no distributed exclusion. Callers log this at startup.
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
	}
	return release, nil
}
