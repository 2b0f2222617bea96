// Package targetrepotest provides contract tests for
// [domain.TargetRepository] implementations.
package targetrepotest

import (
	"context"
	"errors"
	"testing"

	"github.com/skylift/skylift-server/internal/domain"
)

// Factory creates a fresh [domain.TargetRepository] for each test invocation.
type Factory func(t *testing.T) domain.TargetRepository

// Run exercises the [domain.TargetRepository] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("PutAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		target := domain.Target{
			Environment: "prod",
			Label:       "primary",
			Accounts:    []string{"111111111111", "222222222222"},
			Regions:     []string{"us-east-1", "eu-west-1"},
			Downstream:  "",
			Default:     true,
		}

		if err := repo.Put(ctx, target); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := repo.Get(ctx, target.Key())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got.Accounts) != 2 || got.Accounts[0] != "111111111111" {
			t.Errorf("Accounts = %v, want %v", got.Accounts, target.Accounts)
		}
		if len(got.Regions) != 2 || got.Regions[1] != "eu-west-1" {
			t.Errorf("Regions = %v, want %v", got.Regions, target.Regions)
		}
		if !got.Default {
			t.Error("Default = false, want true")
		}
	})

	t.Run("PutReplaces", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		target := domain.Target{
			Environment: "prod",
			Label:       "primary",
			Accounts:    []string{"111111111111"},
			Regions:     []string{"us-east-1"},
		}
		if err := repo.Put(ctx, target); err != nil {
			t.Fatalf("Put: %v", err)
		}

		target.Accounts = []string{"333333333333"}
		target.Downstream = ""
		if err := repo.Put(ctx, target); err != nil {
			t.Fatalf("second Put: %v", err)
		}

		got, err := repo.Get(ctx, target.Key())
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got.Accounts) != 1 || got.Accounts[0] != "333333333333" {
			t.Errorf("Accounts = %v, want [333333333333]", got.Accounts)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), domain.TargetKey{Environment: "prod", Label: "missing"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("DefaultPerEnvironment", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		put := func(label string, def bool) {
			t.Helper()
			err := repo.Put(ctx, domain.Target{
				Environment: "prod",
				Label:       label,
				Accounts:    []string{"111111111111"},
				Regions:     []string{"us-east-1"},
				Default:     def,
			})
			if err != nil {
				t.Fatalf("Put %s: %v", label, err)
			}
		}

		put("primary", true)
		put("canary", false)

		got, err := repo.GetDefault(ctx, "prod")
		if err != nil {
			t.Fatalf("GetDefault: %v", err)
		}
		if got.Label != "primary" {
			t.Errorf("default Label = %q, want %q", got.Label, "primary")
		}

		// Promoting another profile to default demotes the previous one.
		put("canary", true)

		got, err = repo.GetDefault(ctx, "prod")
		if err != nil {
			t.Fatalf("GetDefault after switch: %v", err)
		}
		if got.Label != "canary" {
			t.Errorf("default Label = %q, want %q", got.Label, "canary")
		}

		prev, err := repo.Get(ctx, domain.TargetKey{Environment: "prod", Label: "primary"})
		if err != nil {
			t.Fatalf("Get primary: %v", err)
		}
		if prev.Default {
			t.Error("primary still marked default after switch")
		}
	})

	t.Run("GetDefaultNotConfigured", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.GetDefault(context.Background(), "prod")
		if !errors.Is(err, domain.ErrNotConfigured) {
			t.Fatalf("GetDefault: got %v, want ErrNotConfigured", err)
		}
	})

	t.Run("ListByEnvironment", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		for _, label := range []string{"primary", "canary"} {
			err := repo.Put(ctx, domain.Target{
				Environment: "prod",
				Label:       label,
				Accounts:    []string{"111111111111"},
				Regions:     []string{"us-east-1"},
			})
			if err != nil {
				t.Fatalf("Put %s: %v", label, err)
			}
		}
		err := repo.Put(ctx, domain.Target{
			Environment: "staging",
			Label:       "primary",
			Accounts:    []string{"222222222222"},
			Regions:     []string{"us-east-1"},
		})
		if err != nil {
			t.Fatalf("Put staging: %v", err)
		}

		got, err := repo.List(ctx, "prod")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List: got %d, want 2", len(got))
		}
		if got[0].Label != "canary" || got[1].Label != "primary" {
			t.Errorf("List order = [%s %s], want [canary primary]", got[0].Label, got[1].Label)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		target := domain.Target{
			Environment: "prod",
			Label:       "primary",
			Accounts:    []string{"111111111111"},
			Regions:     []string{"us-east-1"},
		}
		if err := repo.Put(ctx, target); err != nil {
			t.Fatal(err)
		}
		if err := repo.Delete(ctx, target.Key()); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		_, err := repo.Get(ctx, target.Key())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Delete(context.Background(), domain.TargetKey{Environment: "prod", Label: "missing"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Delete: got %v, want ErrNotFound", err)
		}
	})
}
