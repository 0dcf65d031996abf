// Package cache holds the shared key/value, counter and lock backends used by
// the snapshot store, the pending-order slot and the backoff ledger.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Incr atomically adds one and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Int reads a counter; an absent counter reads as zero.
	Int(ctx context.Context, key string) (int64, error)
}

type LockInfo struct {
	Token      string
	AcquiredAt time.Time
}

// Locker is an acquire-with-TTL lock with compare-and-delete release.
type Locker interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Unlock deletes the lock only when it is still held by token.
	Unlock(ctx context.Context, key, token string) (bool, error)
	// Holder returns ErrMiss when nobody holds the lock.
	Holder(ctx context.Context, key string) (LockInfo, error)
}

type Store interface {
	Cache
	Locker
	Close() error
}

type Options struct {
	Driver   string
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New selects a backend by driver name. The memory backend is private to the
// process; use redis when several instances trade the same account.
func New(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(opts)
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", opts.Driver)
	}
}

func encodeLock(token string, at time.Time) string {
	return fmt.Sprintf("%s|%d", token, at.UnixMilli())
}

func decodeLock(raw string) (LockInfo, error) {
	idx := strings.LastIndexByte(raw, '|')
	if idx <= 0 {
		return LockInfo{Token: raw}, nil
	}
	var ms int64
	if _, err := fmt.Sscanf(raw[idx+1:], "%d", &ms); err != nil {
		return LockInfo{}, fmt.Errorf("cache: malformed lock value %q", raw)
	}
	return LockInfo{Token: raw[:idx], AcquiredAt: time.UnixMilli(ms)}, nil
}
