package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"perpbot/internal/cache"
	"perpbot/internal/gateway/notifier"
	"perpbot/internal/logger"
)

// Slot is the account-wide pending-order marker. Whoever holds it is the only
// submitter in flight; the token is the order id being submitted.
type Slot struct {
	locker  cache.Locker
	key     string
	ttl     time.Duration
	stale   time.Duration
	alerter notifier.Alerter
	nowFn   func() time.Time

	mu      sync.Mutex
	alerted string
}

func NewSlot(locker cache.Locker, exchange, account string, ttl, stale time.Duration, alerter notifier.Alerter) *Slot {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	key := fmt.Sprintf("slot:%s:%s", strings.ToLower(exchange), strings.ToLower(account))
	return &Slot{locker: locker, key: key, ttl: ttl, stale: stale, alerter: alerter, nowFn: time.Now}
}

func (s *Slot) Key() string { return s.key }

func (s *Slot) Acquire(ctx context.Context, token string) (bool, error) {
	return s.locker.TryLock(ctx, s.key, token, s.ttl)
}

// Release clears the marker only if token still holds it.
func (s *Slot) Release(ctx context.Context, token string) (bool, error) {
	ok, err := s.locker.Unlock(ctx, s.key, token)
	if err != nil {
		return false, err
	}
	if ok {
		logger.Debugf("[slot] released %s", token)
	}
	return ok, nil
}

// Holder reports the current holder; ok is false when the slot is free.
func (s *Slot) Holder(ctx context.Context) (cache.LockInfo, bool, error) {
	info, err := s.locker.Holder(ctx, s.key)
	if errors.Is(err, cache.ErrMiss) {
		return cache.LockInfo{}, false, nil
	}
	if err != nil {
		return cache.LockInfo{}, false, err
	}
	return info, true, nil
}

// CheckStale alerts once per holder that keeps the marker longer than the
// stale bound. The TTL still frees the marker on its own.
func (s *Slot) CheckStale(ctx context.Context) error {
	if s.stale <= 0 {
		return nil
	}
	info, held, err := s.Holder(ctx)
	if err != nil {
		return fmt.Errorf("read slot: %w", err)
	}
	if !held || info.AcquiredAt.IsZero() {
		return nil
	}
	age := s.nowFn().Sub(info.AcquiredAt)
	if age <= s.stale {
		return nil
	}
	s.mu.Lock()
	already := s.alerted == info.Token
	s.alerted = info.Token
	s.mu.Unlock()
	if already {
		return nil
	}
	if s.alerter != nil {
		s.alerter.Alert(ctx, "slot", "pending-order marker not cleared",
			fmt.Sprintf("key=%s", s.key),
			fmt.Sprintf("order=%s", info.Token),
			fmt.Sprintf("held=%s", age.Truncate(time.Second)))
	}
	return nil
}
