package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Unix(1_700_000_000, 0)
	m.nowFn = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Second))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))

	now = now.Add(2 * time.Second)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCounter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	n, err := m.Int(ctx, "gap")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Incr(ctx, "gap")
		}()
	}
	wg.Wait()
	n, err = m.Int(ctx, "gap")
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)

	require.NoError(t, m.Delete(ctx, "gap"))
	n, _ = m.Int(ctx, "gap")
	assert.Equal(t, int64(0), n)
}

func TestMemoryLockCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.TryLock(ctx, "slot", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.TryLock(ctx, "slot", "b", time.Minute)
	assert.False(t, ok)

	released, err := m.Unlock(ctx, "slot", "b")
	require.NoError(t, err)
	assert.False(t, released, "foreign token must not release")

	info, err := m.Holder(ctx, "slot")
	require.NoError(t, err)
	assert.Equal(t, "a", info.Token)
	assert.False(t, info.AcquiredAt.IsZero())

	released, _ = m.Unlock(ctx, "slot", "a")
	assert.True(t, released)
	_, err = m.Holder(ctx, "slot")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryLockExclusiveUnderRace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if ok, _ := m.TryLock(ctx, "slot", string(rune('a'+i%26)), time.Minute); ok {
				atomic.AddInt32(&winners, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners)
}

func TestLockExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Unix(1_700_000_000, 0)
	m.nowFn = func() time.Time { return now }

	ok, _ := m.TryLock(ctx, "slot", "a", 10*time.Second)
	require.True(t, ok)
	now = now.Add(11 * time.Second)
	ok, _ = m.TryLock(ctx, "slot", "b", 10*time.Second)
	assert.True(t, ok)
}

func TestNewSelectsDriver(t *testing.T) {
	s, err := New(Options{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = New(Options{Driver: "etcd"})
	assert.Error(t, err)
}

func TestDecodeLock(t *testing.T) {
	info, err := decodeLock(encodeLock("ord-1|x", time.UnixMilli(1234)))
	require.NoError(t, err)
	assert.Equal(t, "ord-1|x", info.Token)
	assert.Equal(t, int64(1234), info.AcquiredAt.UnixMilli())
}
