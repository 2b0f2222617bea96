package domain

import (
	"context"
	"fmt"
	"time"
)

// LockStatus is the lifecycle state of a lock record.
type LockStatus string

const (
	LockHeld     LockStatus = "held"
	LockReleased LockStatus = "released"
	LockExpired  LockStatus = "expired"
)

// Lock is a leased mutual-exclusion record for one (environment, target)
// key. At most one unexpired held lock may exist per key at any instant.
type Lock struct {
	Key        string
	Holder     string
	Status     LockStatus
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// LockHandle is returned to a successful acquirer and required for renewal
// and release. The holder is the attempt's run id; repositories use it as
// the fingerprint that detects reclamation by another holder.
type LockHandle struct {
	Key       string
	Holder    string
	ExpiresAt time.Time
}

// LockManager grants and releases time-bounded exclusive leases. TTL-based
// leases bound the blast radius of a crashed run: a dead holder's lock
// becomes reclaimable once its TTL elapses, without operator intervention.
type LockManager struct {
	Locks LockRepository
}

// Acquire attempts an atomic conditional create of a lock for key. It
// succeeds when no unexpired held lock exists, including over a stale lock
// whose TTL has elapsed. Returns [ErrBusy] while a live holder exists.
func (m *LockManager) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (LockHandle, error) {
	if ttl <= 0 {
		return LockHandle{}, fmt.Errorf("%w: lock ttl must be positive", ErrInvalidArgument)
	}
	lock, err := m.Locks.Acquire(ctx, key, holder, ttl)
	if err != nil {
		return LockHandle{}, err
	}
	return LockHandle{Key: lock.Key, Holder: lock.Holder, ExpiresAt: lock.ExpiresAt}, nil
}

// Renew extends the lease while the holder is demonstrably alive. Returns
// [ErrLockLost] if another holder has reclaimed the key since acquisition.
func (m *LockManager) Renew(ctx context.Context, handle *LockHandle, ttl time.Duration) error {
	lock, err := m.Locks.Renew(ctx, handle.Key, handle.Holder, ttl)
	if err != nil {
		return err
	}
	handle.ExpiresAt = lock.ExpiresAt
	return nil
}

// Release ends the lease. Idempotent: releasing an already released,
// expired, or reclaimed lock is not an error.
func (m *LockManager) Release(ctx context.Context, handle LockHandle) error {
	return m.Locks.Release(ctx, handle.Key, handle.Holder)
}
