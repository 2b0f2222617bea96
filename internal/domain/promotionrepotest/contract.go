// Package promotionrepotest provides contract tests for
// [domain.PromotionRepository] implementations.
package promotionrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skylift/skylift-server/internal/domain"
)

// Factory creates a fresh [domain.PromotionRepository] for each test
// invocation.
type Factory func(t *testing.T) domain.PromotionRepository

// Run exercises the [domain.PromotionRepository] contract. The only
// behavior that matters is the conditional insert keyed by source run:
// that is what guarantees a promotion fires at most once.
func Run(t *testing.T, factory Factory) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Create", func(t *testing.T) {
		repo := factory(t)
		if err := repo.Create(context.Background(), "run-1", "staging", now); err != nil {
			t.Fatalf("Create: %v", err)
		}
	})

	t.Run("CreateDuplicateSourceRun", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, "run-1", "staging", now); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		err := repo.Create(ctx, "run-1", "staging", now.Add(time.Minute))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("DistinctSourceRuns", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, "run-1", "staging", now); err != nil {
			t.Fatalf("Create run-1: %v", err)
		}
		if err := repo.Create(ctx, "run-2", "staging", now); err != nil {
			t.Fatalf("Create run-2: %v", err)
		}
	})
}
