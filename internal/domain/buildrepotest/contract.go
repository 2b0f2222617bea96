// Package buildrepotest provides contract tests for
// [domain.BuildRepository] implementations.
package buildrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skylift/skylift-server/internal/domain"
)

// Factory creates a fresh [domain.BuildRepository] for each test invocation.
type Factory func(t *testing.T) domain.BuildRepository

// Run exercises the [domain.BuildRepository] contract.
func Run(t *testing.T, factory Factory) {
	base := domain.Build{
		Repository:  "acme/checkout",
		Environment: "dev",
		Version:     "42.f00dcafe",
		ArtifactRef: "s3://artifacts/checkout/42.f00dcafe.zip",
		CreatedAt:   time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, base); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, base.Key())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ArtifactRef != base.ArtifactRef {
			t.Errorf("ArtifactRef = %q, want %q", got.ArtifactRef, base.ArtifactRef)
		}
		if !got.CreatedAt.Equal(base.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base.CreatedAt)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, base); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		err := repo.Create(ctx, base)
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("SameVersionDifferentEnvironment", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, base); err != nil {
			t.Fatalf("Create dev: %v", err)
		}
		promoted := base
		promoted.Environment = "staging"
		if err := repo.Create(ctx, promoted); err != nil {
			t.Fatalf("Create staging: %v", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), domain.BuildKey{
			Repository:  "acme/checkout",
			Environment: "dev",
			Version:     "0.missing",
		})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListByEnvironment", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		second := base
		second.Version = "43.deadbeef"
		second.CreatedAt = base.CreatedAt.Add(time.Hour)
		other := base
		other.Environment = "staging"

		for _, b := range []domain.Build{base, second, other} {
			if err := repo.Create(ctx, b); err != nil {
				t.Fatalf("Create %s: %v", b.Key(), err)
			}
		}

		got, err := repo.ListByEnvironment(ctx, "dev")
		if err != nil {
			t.Fatalf("ListByEnvironment: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListByEnvironment: got %d, want 2", len(got))
		}
		for _, b := range got {
			if b.Environment != "dev" {
				t.Errorf("Environment = %q, want dev", b.Environment)
			}
		}
	})
}
