// Package lockrepotest provides contract tests for [domain.LockRepository]
// implementations.
package lockrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skylift/skylift-server/internal/domain"
)

// Factory creates a fresh [domain.LockRepository] for each test invocation.
type Factory func(t *testing.T) domain.LockRepository

// Run exercises the [domain.LockRepository] contract. Expiry tests use
// short real TTLs so the contract holds for backends without an
// injectable clock.
func Run(t *testing.T, factory Factory) {
	t.Run("AcquireAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		lock, err := repo.Acquire(ctx, "prod/primary", "run-1", time.Minute)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if lock.Holder != "run-1" {
			t.Errorf("Holder = %q, want %q", lock.Holder, "run-1")
		}
		if lock.Status != domain.LockHeld {
			t.Errorf("Status = %q, want %q", lock.Status, domain.LockHeld)
		}

		got, err := repo.Get(ctx, "prod/primary")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Holder != "run-1" || got.Status != domain.LockHeld {
			t.Errorf("Get = %+v, want held by run-1", got)
		}
	})

	t.Run("MutualExclusion", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if _, err := repo.Acquire(ctx, "prod/primary", "run-1", time.Minute); err != nil {
			t.Fatalf("first Acquire: %v", err)
		}
		_, err := repo.Acquire(ctx, "prod/primary", "run-2", time.Minute)
		if !errors.Is(err, domain.ErrBusy) {
			t.Fatalf("second Acquire: got %v, want ErrBusy", err)
		}
	})

	t.Run("IndependentKeys", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if _, err := repo.Acquire(ctx, "prod/primary", "run-1", time.Minute); err != nil {
			t.Fatalf("Acquire prod/primary: %v", err)
		}
		if _, err := repo.Acquire(ctx, "staging/primary", "run-2", time.Minute); err != nil {
			t.Fatalf("Acquire staging/primary: %v", err)
		}
	})

	t.Run("StaleReclamation", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if _, err := repo.Acquire(ctx, "prod/primary", "run-1", 20*time.Millisecond); err != nil {
			t.Fatalf("first Acquire: %v", err)
		}
		time.Sleep(50 * time.Millisecond)

		lock, err := repo.Acquire(ctx, "prod/primary", "run-2", time.Minute)
		if err != nil {
			t.Fatalf("Acquire over expired lock: %v", err)
		}
		if lock.Holder != "run-2" {
			t.Errorf("Holder = %q, want %q", lock.Holder, "run-2")
		}
	})

	t.Run("RenewExtendsLease", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		first, err := repo.Acquire(ctx, "prod/primary", "run-1", time.Minute)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		renewed, err := repo.Renew(ctx, "prod/primary", "run-1", 2*time.Minute)
		if err != nil {
			t.Fatalf("Renew: %v", err)
		}
		if !renewed.ExpiresAt.After(first.ExpiresAt) {
			t.Errorf("ExpiresAt = %v, want after %v", renewed.ExpiresAt, first.ExpiresAt)
		}
	})

	t.Run("RenewAfterReclaim", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if _, err := repo.Acquire(ctx, "prod/primary", "run-1", 20*time.Millisecond); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if _, err := repo.Acquire(ctx, "prod/primary", "run-2", time.Minute); err != nil {
			t.Fatalf("reclaim Acquire: %v", err)
		}

		_, err := repo.Renew(ctx, "prod/primary", "run-1", time.Minute)
		if !errors.Is(err, domain.ErrLockLost) {
			t.Fatalf("Renew by old holder: got %v, want ErrLockLost", err)
		}
	})

	t.Run("RenewExpired", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if _, err := repo.Acquire(ctx, "prod/primary", "run-1", 20*time.Millisecond); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		time.Sleep(50 * time.Millisecond)

		_, err := repo.Renew(ctx, "prod/primary", "run-1", time.Minute)
		if !errors.Is(err, domain.ErrLockLost) {
			t.Fatalf("Renew expired lease: got %v, want ErrLockLost", err)
		}
	})

	t.Run("ReleaseFreesKey", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if _, err := repo.Acquire(ctx, "prod/primary", "run-1", time.Minute); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := repo.Release(ctx, "prod/primary", "run-1"); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if _, err := repo.Acquire(ctx, "prod/primary", "run-2", time.Minute); err != nil {
			t.Fatalf("Acquire after release: %v", err)
		}
	})

	t.Run("ReleaseIdempotent", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if _, err := repo.Acquire(ctx, "prod/primary", "run-1", time.Minute); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := repo.Release(ctx, "prod/primary", "run-1"); err != nil {
			t.Fatalf("first Release: %v", err)
		}
		if err := repo.Release(ctx, "prod/primary", "run-1"); err != nil {
			t.Fatalf("second Release: %v", err)
		}
		if err := repo.Release(ctx, "prod/primary", "never-held"); err != nil {
			t.Fatalf("Release by non-holder: %v", err)
		}
	})

	t.Run("ReleaseByNonHolderKeepsLock", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if _, err := repo.Acquire(ctx, "prod/primary", "run-1", time.Minute); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := repo.Release(ctx, "prod/primary", "run-2"); err != nil {
			t.Fatalf("Release by non-holder: %v", err)
		}

		_, err := repo.Acquire(ctx, "prod/primary", "run-3", time.Minute)
		if !errors.Is(err, domain.ErrBusy) {
			t.Fatalf("Acquire after foreign release: got %v, want ErrBusy", err)
		}
	})
}
