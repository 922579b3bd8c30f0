package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	logx "schedkit/pkg/logx"
)

// KEYS[1]: lock key, ARGV[1]: owner token, ARGV[2]: ttl ms
const luaRefresh = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// KEYS[1]: lock key, ARGV[1]: owner token
const luaRelease = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLock is a SET NX PX lock. The holder refreshes the TTL on every
// TryLock; a holder that stops refreshing loses the lock after TTL.
type RedisLock struct {
	client  redis.UniversalClient
	key     string
	token   string
	ttl     time.Duration
	timeout time.Duration
	log     logx.Logger

	refresh *redis.Script
	release *redis.Script

	mu   sync.Mutex
	held bool
}

func NewRedisLock(client redis.UniversalClient, key, owner string, ttl, timeout time.Duration, log logx.Logger) *RedisLock {
	if log.IsZero() {
		log = logx.Nop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RedisLock{
		client:  client,
		key:     key,
		token:   fmt.Sprintf("%s:%d", owner, time.Now().UnixNano()),
		ttl:     ttl,
		timeout: timeout,
		log:     log,
		refresh: redis.NewScript(luaRefresh),
		release: redis.NewScript(luaRelease),
	}
}

func (l *RedisLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if l.held {
		n, err := l.refresh.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
		if err != nil {
			return false, fmt.Errorf("lock: redis refresh: %w", err)
		}
		if n == 1 {
			return true, nil
		}
		l.held = false
		l.log.Warn("redis lock expired while held", logx.String("key", l.key))
	}

	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock: redis set: %w", err)
	}
	l.held = ok
	if ok {
		l.log.Debug("redis lock acquired", logx.String("key", l.key))
	}
	return ok, nil
}

func (l *RedisLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.release.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lock: redis release: %w", err)
	}
	return nil
}

func (l *RedisLock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Holder returns the token of the current holder, empty when free.
func (l *RedisLock) Holder(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	v, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Close closes the underlying client.
func (l *RedisLock) Close() error { return l.client.Close() }
