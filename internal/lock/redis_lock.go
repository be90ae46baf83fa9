package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Redis holds keys in Redis so that several API processes sharing one
// database still serialize writes per item.
type Redis struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	prefix string
	logger *logrus.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, wait time.Duration, logger *logrus.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Redis{
		client: redislock.New(client),
		ttl:    ttl,
		wait:   wait,
		prefix: "tokoledger:lock:",
		logger: logger,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	obtainCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	held, err := r.client.Obtain(obtainCtx, r.prefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := held.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.WithFields(logrus.Fields{
					"module":   "lock",
					"funcName": "Release",
					"key":      key,
				}).Warn(err.Error())
			}
		})
	}, nil
}
