package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var Client *redis.Client

// ErrLocked is returned when another holder owns the lock
var ErrLocked = errors.New("lock is held by another process")

// InitRedis initializes Redis connection
func InitRedis(addr, password string, db int, log *logrus.Entry) error {
	Client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx := context.Background()
	if err := Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.WithField("addr", addr).Info("[Redis] Connected")
	return nil
}

// Close closes the Redis connection
func Close() error {
	if Client != nil {
		return Client.Close()
	}
	return nil
}

// only the owner token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out expiring locks shared by every agent using the same Redis
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewLocker creates a locker; keys are stored as prefix+key and expire after ttl
func NewLocker(client *redis.Client, prefix string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Locker{client: client, prefix: prefix, ttl: ttl}
}

// Acquire takes the lock with SET NX PX. The returned release is safe to call more than once.
func (l *Locker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}, nil
}
