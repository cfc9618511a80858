package renewal

import (
	"context"
	"errors"
	"sync"
	"time"

	"go_certagent/internal/cache"

	"github.com/sirupsen/logrus"
)

// Locker guarantees that a renewal runs at most once at a time
type Locker interface {
	// TryLock returns ErrLocked when the renewal is already running
	TryLock(ctx context.Context, id string) (release func(), err error)
}

// LocalLocker locks within this process
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, id string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return nil, ErrLocked
	}
	l.held[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, nil
}

// RedisLocker locks across every agent sharing the Redis instance
type RedisLocker struct {
	locker *cache.Locker
	log    *logrus.Entry
}

func NewRedisLocker(locker *cache.Locker, log *logrus.Entry) *RedisLocker {
	return &RedisLocker{locker: locker, log: log.WithField("component", "renewal-lock")}
}

func (l *RedisLocker) TryLock(ctx context.Context, id string) (func(), error) {
	release, err := l.locker.Acquire(ctx, "renewal:"+id)
	if errors.Is(err, cache.ErrLocked) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := release(ctx); err != nil {
				l.log.WithField("renewal", id).WithError(err).Warn("[Lock] Release failed, lock will expire")
			}
		})
	}, nil
}
