package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/sirupsen/logrus"
)

const PAIR_LOCK_PREFIX = "relation-lock:"

// PairLocker сериализует операции над одной (неупорядоченной) парой пользователей между инстансами.
// Внутри одной БД порядок и так обеспечивают блокировки строк пользователей.
type PairLocker interface {
	Lock(ctx context.Context, a, b int64) (unlock func(), err error)
}

type NoopLocker struct{}

func (NoopLocker) Lock(context.Context, int64, int64) (func(), error) {
	return func() {}, nil
}

type RedisPairLocker struct {
	rs  *redsync.Redsync
	ttl time.Duration
}

func NewRedisPairLocker(client *redis.Client, ttl time.Duration) *RedisPairLocker {
	return &RedisPairLocker{
		rs:  redsync.New(goredis.NewPool(client)),
		ttl: ttl,
	}
}

func pairLockName(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s%d:%d", PAIR_LOCK_PREFIX, a, b)
}

func (l *RedisPairLocker) Lock(ctx context.Context, a, b int64) (func(), error) {
	name := pairLockName(a, b)
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(32),
		redsync.WithRetryDelay(50*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", name, err)
	}
	return func() {
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			logrus.WithError(err).WithField("lock", name).Warn("failed to release pair lock")
		}
	}, nil
}
