package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

const releaseTimeout = 5 * time.Second

// RedisLocker shares leases between processes through SET NX PX.
type RedisLocker struct {
	Client redis.Cmdable
	Prefix string
	Logger *zap.Logger
}

func NewRedisLocker(opt *redis.Options, prefix string) *RedisLocker {
	return &RedisLocker{Client: redis.NewClient(opt), Prefix: prefix}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	full := l.Prefix + key
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// The caller's context may already be done when the lease is handed back.
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := l.Client.Eval(rctx, releaseScript, []string{full}, token).Err(); err != nil && l.Logger != nil {
			l.Logger.Warn("lock release failed", zap.String("key", full), zap.Error(err))
		}
	}
	return release, true, nil
}
