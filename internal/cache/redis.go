package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var unlockScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and string.sub(v, 1, string.len(ARGV[1]) + 1) == ARGV[1] .. '|' then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis shares snapshots, the pending-order slot and ledger counters across
// processes trading the same account.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(opts Options) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %w", opts.Addr, err)
	}
	return &Redis{client: client, prefix: opts.Prefix}, nil
}

// NewRedisWithClient wraps an existing client, used by tests and embedders.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) wrapKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, r.wrapKey(key), value, ttl).Err()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.wrapKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.wrapKey(key)).Err()
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, r.wrapKey(key)).Result()
}

func (r *Redis) Int(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Get(ctx, r.wrapKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *Redis) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.wrapKey(key), encodeLock(token, time.Now()), ttl).Result()
}

func (r *Redis) Unlock(ctx context.Context, key, token string) (bool, error) {
	n, err := unlockScript.Run(ctx, r.client, []string{r.wrapKey(key)}, token).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Redis) Holder(ctx context.Context, key string) (LockInfo, error) {
	raw, err := r.client.Get(ctx, r.wrapKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return LockInfo{}, ErrMiss
	}
	if err != nil {
		return LockInfo{}, err
	}
	return decodeLock(raw)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
