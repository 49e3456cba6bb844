package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "lock:"

// ErrLockTimeout is returned when a lock could not be acquired within the wait time.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// releaseScript deletes the lock only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// leaderScript takes the key when free and extends it when already ours.
var leaderScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner == false then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
if owner == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// LockStore handles distributed entity locking in Redis.
type LockStore struct {
	client   *redis.Client
	ttl      time.Duration
	wait     time.Duration
	retry    time.Duration
	instance string
}

// NewLockStore creates a new LockStore. ttl bounds how long a crashed holder
// keeps a key; wait bounds how long Lock blocks.
func NewLockStore(client *redis.Client, ttl, wait time.Duration) *LockStore {
	return &LockStore{
		client:   client,
		ttl:      ttl,
		wait:     wait,
		retry:    25 * time.Millisecond,
		instance: uuid.New().String(),
	}
}

// AcquireLock attempts to take key once.
// Returns the token to release with, or "" if the key is held elsewhere.
func (s *LockStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := s.client.SetNX(ctx, lockPrefix+key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseLock releases key if it is still held with token.
func (s *LockStore) ReleaseLock(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, s.client, []string{lockPrefix + key}, token).Err()
}

// Lock blocks until key is held, the wait time passes, or ctx is done.
func (s *LockStore) Lock(ctx context.Context, key string) (func(), error) {
	deadline := time.Now().Add(s.wait)
	for {
		token, err := s.AcquireLock(ctx, key, s.ttl)
		if err != nil {
			return nil, err
		}
		if token != "" {
			return func() {
				// Release even when the request context is already canceled.
				_ = s.ReleaseLock(context.Background(), key, token)
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retry):
		}
	}
}

// TryLeader reports whether this instance holds key for the next ttl.
func (s *LockStore) TryLeader(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	n, err := leaderScript.Run(ctx, s.client, []string{lockPrefix + "leader:" + key}, s.instance, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
