package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another process holds the lock.
var ErrLockHeld = errors.New("lock held by another run")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RunLock is a single-holder Redis lock (SET NX PX) that keeps overlapping
// follow-up passes from running against the same store.
type RunLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewRunLock(rdb *redis.Client, key string, ttl time.Duration) *RunLock {
	return &RunLock{rdb: rdb, key: key, ttl: ttl}
}

// Acquire takes the lock and returns the function that releases it.
// Release only deletes the key while it still holds this holder's token.
func (l *RunLock) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.rdb, []string{l.key}, token).Err()
	}, nil
}
