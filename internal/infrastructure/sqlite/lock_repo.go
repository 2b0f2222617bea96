package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/skylift/skylift-server/internal/domain"
)

// LockRepo implements [domain.LockRepository] backed by SQLite. All
// mutations are single conditional statements; RowsAffected distinguishes
// "condition held" from "someone else owns the key".
type LockRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

func (r *LockRepo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *LockRepo) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (domain.Lock, error) {
	now := r.now()
	expires := now.Add(ttl)

	// Atomic conditional create: the upsert only replaces a row whose
	// lease is released or whose TTL has elapsed (stale reclamation).
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO locks (key, holder, status, acquired_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		     holder = excluded.holder,
		     status = excluded.status,
		     acquired_at = excluded.acquired_at,
		     expires_at = excluded.expires_at
		 WHERE locks.status != ? OR locks.expires_at <= excluded.acquired_at`,
		key, holder, string(domain.LockHeld), toNanos(now), toNanos(expires),
		string(domain.LockHeld),
	)
	if err != nil {
		return domain.Lock{}, fmt.Errorf("acquire lock: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.Lock{}, fmt.Errorf("lock %q: %w", key, domain.ErrBusy)
	}
	return domain.Lock{
		Key:        key,
		Holder:     holder,
		Status:     domain.LockHeld,
		AcquiredAt: now,
		ExpiresAt:  expires,
	}, nil
}

func (r *LockRepo) Renew(ctx context.Context, key, holder string, ttl time.Duration) (domain.Lock, error) {
	now := r.now()
	expires := now.Add(ttl)

	res, err := r.DB.ExecContext(ctx,
		`UPDATE locks SET expires_at = ?
		 WHERE key = ? AND holder = ? AND status = ? AND expires_at > ?`,
		toNanos(expires), key, holder, string(domain.LockHeld), toNanos(now),
	)
	if err != nil {
		return domain.Lock{}, fmt.Errorf("renew lock: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.Lock{}, fmt.Errorf("lock %q holder %q: %w", key, holder, domain.ErrLockLost)
	}
	return domain.Lock{Key: key, Holder: holder, Status: domain.LockHeld, ExpiresAt: expires}, nil
}

func (r *LockRepo) Release(ctx context.Context, key, holder string) error {
	// Only the current holder's held lease is marked released; a row
	// already released, expired, or reclaimed by another holder is left
	// alone and the call still succeeds.
	_, err := r.DB.ExecContext(ctx,
		`UPDATE locks SET status = ? WHERE key = ? AND holder = ? AND status = ?`,
		string(domain.LockReleased), key, holder, string(domain.LockHeld),
	)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (r *LockRepo) Get(ctx context.Context, key string) (domain.Lock, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT key, holder, status, acquired_at, expires_at FROM locks WHERE key = ?`,
		key,
	)
	var l domain.Lock
	var status string
	var acquiredAt, expiresAt int64
	if err := row.Scan(&l.Key, &l.Holder, &status, &acquiredAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return l, fmt.Errorf("lock %q: %w", key, domain.ErrNotFound)
		}
		return l, fmt.Errorf("scan lock: %w", err)
	}
	l.Status = domain.LockStatus(status)
	l.AcquiredAt = fromNanos(acquiredAt)
	l.ExpiresAt = fromNanos(expiresAt)
	if l.Status == domain.LockHeld && !l.ExpiresAt.After(r.now()) {
		l.Status = domain.LockExpired
	}
	return l, nil
}
