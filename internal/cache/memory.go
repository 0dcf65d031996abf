package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const defaultShardCount = 32

type memEntry struct {
	value    []byte
	expireAt time.Time
}

type memShard struct {
	mu   sync.Mutex
	data map[string]memEntry
}

// Memory is a sharded in-process backend with per-entry expiry.
type Memory struct {
	shards []memShard
	nowFn  func() time.Time
}

func NewMemory() *Memory {
	m := &Memory{
		shards: make([]memShard, defaultShardCount),
		nowFn:  time.Now,
	}
	for i := range m.shards {
		m.shards[i] = memShard{data: make(map[string]memEntry)}
	}
	return m
}

func (m *Memory) shardFor(key string) *memShard {
	return &m.shards[hashKey(key)%uint32(len(m.shards))]
}

// load must be called with the shard locked.
func (m *Memory) load(sh *memShard, key string) (memEntry, bool) {
	e, ok := sh.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expireAt.IsZero() && !m.nowFn().Before(e.expireAt) {
		delete(sh.data, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.nowFn().Add(ttl)
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	sh := m.shardFor(key)
	buf := make([]byte, len(value))
	copy(buf, value)
	sh.mu.Lock()
	sh.data[key] = memEntry{value: buf, expireAt: m.expiry(ttl)}
	sh.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := m.load(sh, key)
	if !ok {
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	sh := m.shardFor(key)
	sh.mu.Lock()
	delete(sh.data, key)
	sh.mu.Unlock()
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	var cur int64
	if e, ok := m.load(sh, key); ok {
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, err
		}
		cur = n
	}
	cur++
	sh.data[key] = memEntry{value: []byte(strconv.FormatInt(cur, 10))}
	return cur, nil
}

func (m *Memory) Int(ctx context.Context, key string) (int64, error) {
	raw, err := m.Get(ctx, key)
	if err == ErrMiss {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

func (m *Memory) TryLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, held := m.load(sh, key); held {
		return false, nil
	}
	sh.data[key] = memEntry{value: []byte(encodeLock(token, m.nowFn())), expireAt: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) Unlock(_ context.Context, key, token string) (bool, error) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := m.load(sh, key)
	if !ok {
		return false, nil
	}
	info, err := decodeLock(string(e.value))
	if err != nil {
		return false, err
	}
	if info.Token != token {
		return false, nil
	}
	delete(sh.data, key)
	return true, nil
}

func (m *Memory) Holder(ctx context.Context, key string) (LockInfo, error) {
	raw, err := m.Get(ctx, key)
	if err != nil {
		return LockInfo{}, err
	}
	return decodeLock(string(raw))
}

func (m *Memory) Close() error { return nil }

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
