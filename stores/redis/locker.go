package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultLockPrefix = "passlink:lock:"

// releaseScript deletes the lock only if it still holds our token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a passlink.Locker backed by SET NX PX. The TTL bounds how long a
// crashed holder can block others.
type Locker struct {
	client        goredis.UniversalClient
	Prefix        string
	TTL           time.Duration
	RetryInterval time.Duration
	Logger        *zap.Logger
}

func NewLocker(client goredis.UniversalClient) *Locker {
	return &Locker{
		client:        client,
		Prefix:        DefaultLockPrefix,
		TTL:           10 * time.Second,
		RetryInterval: 25 * time.Millisecond,
		Logger:        zap.NewNop(),
	}
}

// Lock blocks until the key is acquired or ctx is done
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.Prefix + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.TTL).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "acquire lock %s", key)
		}
		if ok {
			return func() { l.release(redisKey, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.RetryInterval):
		}
	}
}

func (l *Locker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		l.Logger.Warn("failed to release lock", zap.String("key", redisKey), zap.Error(err))
	}
}
