package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/triage-engine/internal/triage"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

const (
	defaultLockTTL      = 60 * time.Second
	defaultPollInterval = 50 * time.Millisecond
	releaseTimeout      = 2 * time.Second
	lockKeyPrefix       = "triage:session-lock:"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisSequencer serialises work per key across processes with a Redis
// lock (SET NX PX). In-process callers queue on a LocalSequencer first so
// only one of them polls Redis at a time. A held lock is renewed every
// ttl/3 until released, so a slow turn keeps its session.
type RedisSequencer struct {
	client *redis.Client
	local  *LocalSequencer
	ttl    time.Duration
	poll   time.Duration
	renew  time.Duration
	logger *logging.Logger
}

var _ triage.Sequencer = (*RedisSequencer)(nil)

// NewRedisSequencer creates a sequencer. ttl bounds how long a crashed
// holder can block a session.
func NewRedisSequencer(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisSequencer {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisSequencer{
		client: client,
		local:  NewLocalSequencer(),
		ttl:    ttl,
		poll:   defaultPollInterval,
		renew:  max(ttl/3, time.Millisecond),
		logger: logger,
	}
}

func (s *RedisSequencer) Acquire(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := s.local.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	lockKey := lockKeyPrefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		ok, err := s.client.SetNX(ctx, lockKey, token, s.ttl).Result()
		if err != nil {
			releaseLocal()
			return nil, fmt.Errorf("session: acquire lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			releaseLocal()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go s.keepAlive(key, lockKey, token, stop, stopped)

	return func() {
		defer releaseLocal()
		close(stop)
		<-stopped
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		n, err := releaseScript.Run(rctx, s.client, []string{lockKey}, token).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			s.logger.Warn("failed to release session lock", "key", key, "error", err)
			return
		}
		if n == 0 {
			s.logger.Warn("session lock expired before release", "key", key, "ttl", s.ttl)
		}
	}, nil
}

// keepAlive renews the lock until stop closes or the lock is lost.
func (s *RedisSequencer) keepAlive(key, lockKey, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.renew)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		n, err := renewScript.Run(rctx, s.client, []string{lockKey}, token, s.ttl.Milliseconds()).Int()
		cancel()
		if err != nil && !errors.Is(err, redis.Nil) {
			s.logger.Warn("failed to renew session lock", "key", key, "error", err)
			continue
		}
		if n == 0 {
			s.logger.Warn("session lock lost while held", "key", key)
			return
		}
	}
}
