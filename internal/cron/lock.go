package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLeaseTTL = 5 * time.Minute

// ErrLeaseLost is returned by Renew when another replica took over after the
// lease expired.
var ErrLeaseLost = errors.New("cron lease lost")

// Lock is a renewable lease that makes one worker replica the cycle leader.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
	TTL() time.Duration
}

type leaseStore interface {
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ExtendLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) (bool, error)
}

// RedisLock holds a lease under key. Each successful Acquire mints a fresh
// owner token, so a stale holder can neither renew nor release a lease that
// has since passed to another replica.
type RedisLock struct {
	store leaseStore
	key   string
	ttl   time.Duration

	mu    sync.Mutex
	owner string
}

func NewRedisLock(store leaseStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("lease store required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) TTL() time.Duration { return l.ttl }

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner := uuid.NewString()
	ok, err := l.store.AcquireLease(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

func (l *RedisLock) Renew(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == "" {
		return ErrLeaseLost
	}
	ok, err := l.store.ExtendLease(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	if !ok {
		l.owner = ""
		return ErrLeaseLost
	}
	return nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == "" {
		return nil
	}
	owner := l.owner
	l.owner = ""
	if _, err := l.store.ReleaseLease(ctx, l.key, owner); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}
