package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// UnlockFunc releases a lock obtained from a Locker.
type UnlockFunc func(ctx context.Context) error

// Locker serializes mutations for one session. Lock blocks until the lock is held
// or ctx is done.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (UnlockFunc, error)
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// LocalLocker is an in-process Locker. Entries are reference counted and dropped
// once nobody holds or waits for them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*lockEntry)}
}

func (l *LocalLocker) acquire(sessionID string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalLocker) release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[sessionID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, sessionID)
	}
}

func (l *LocalLocker) Lock(ctx context.Context, sessionID string) (UnlockFunc, error) {
	entry := l.acquire(sessionID)
	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(sessionID)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-entry.sem
			l.release(sessionID)
		})
		return nil
	}, nil
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

const (
	defaultLockTTL      = 30 * time.Second
	defaultLockInterval = 50 * time.Millisecond
)

var releaseScript = backend.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes session mutations across replicas with SET NX + token.
// A local lock is taken first so one process does not poll against itself.
type RedisLocker struct {
	client   *backend.Client
	prefix   string
	ttl      time.Duration
	interval time.Duration
	local    *LocalLocker
}

func NewRedisLocker(client *backend.Client, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = defaultStoreKeyPrefix
	}
	return &RedisLocker{
		client:   client,
		prefix:   prefix,
		ttl:      defaultLockTTL,
		interval: defaultLockInterval,
		local:    NewLocalLocker(),
	}
}

func (r *RedisLocker) key(sessionID string) string {
	return r.prefix + "lock:" + sessionID
}

func (r *RedisLocker) Lock(ctx context.Context, sessionID string) (UnlockFunc, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	unlockLocal, err := r.local.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	key := r.key(sessionID)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			_ = unlockLocal(ctx)
			return nil, fmt.Errorf("acquire redis lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			_ = unlockLocal(ctx)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func(ctx context.Context) error {
		defer func() { _ = unlockLocal(ctx) }()
		err := releaseScript.Run(ctx, r.client, []string{key}, token).Err()
		if err != nil && !errors.Is(err, backend.Nil) {
			return fmt.Errorf("release redis lock: %w", err)
		}
		return nil
	}, nil
}
