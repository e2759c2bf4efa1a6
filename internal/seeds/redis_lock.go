package seeds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

var errLockHeld = errors.New("lock held by another owner")

// releaseScript deletes the key only if this owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process talking to the same Redis.
// A held lock expires after TTL so a crashed owner cannot wedge a user.
type RedisLocker struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	poll    time.Duration
	log     logrus.FieldLogger
}

// NewRedisLocker creates a locker using client. ttl bounds how long a lock
// survives its owner, timeout bounds how long Lock waits.
func NewRedisLocker(client redis.UniversalClient, ttl, timeout time.Duration, log logrus.FieldLogger) *RedisLocker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisLocker{
		client:  client,
		prefix:  "pf:lock:",
		ttl:     ttl,
		timeout: timeout,
		poll:    10 * time.Millisecond,
		log:     log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	b := retry.NewConstant(l.poll)
	b = retry.WithJitter(l.poll/2, b)
	b = retry.WithMaxDuration(l.timeout, b)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire %s: %w", redisKey, err)
		}
		if !ok {
			return retry.RetryableError(errLockHeld)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errLockHeld) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: lock %s: %w", ErrRotationRaceDetected, key, err)
		}
		return nil, err
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.log.WithError(err).WithField("key", redisKey).Warn("lock_release_failed")
		}
	}, nil
}
