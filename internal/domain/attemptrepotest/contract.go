// Package attemptrepotest provides contract tests for
// [domain.AttemptRepository] implementations.
package attemptrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skylift/skylift-server/internal/domain"
)

// Factory creates a fresh [domain.AttemptRepository] for each test invocation.
type Factory func(t *testing.T) domain.AttemptRepository

func newAttempt(runID string, startedAt time.Time) domain.DeploymentAttempt {
	return domain.DeploymentAttempt{
		RunID: runID,
		Build: domain.BuildKey{
			Repository:  "acme/checkout",
			Environment: "dev",
			Version:     "42.f00dcafe",
		},
		ArtifactRef: "s3://artifacts/checkout/42.f00dcafe.zip",
		Target:      domain.TargetKey{Environment: "dev", Label: "primary"},
		Phase:       domain.PhasePending,
		StartedAt:   startedAt,
	}
}

// Run exercises the [domain.AttemptRepository] contract.
func Run(t *testing.T, factory Factory) {
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		attempt := newAttempt("run-1", t0)

		if err := repo.Create(ctx, attempt); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "run-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Phase != domain.PhasePending {
			t.Errorf("Phase = %q, want %q", got.Phase, domain.PhasePending)
		}
		if got.Build != attempt.Build {
			t.Errorf("Build = %+v, want %+v", got.Build, attempt.Build)
		}
		if got.Target != attempt.Target {
			t.Errorf("Target = %+v, want %+v", got.Target, attempt.Target)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, newAttempt("run-1", t0)); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		err := repo.Create(ctx, newAttempt("run-1", t0))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("AdvancePhase", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, newAttempt("run-1", t0)); err != nil {
			t.Fatal(err)
		}
		if err := repo.AdvancePhase(ctx, "run-1", domain.PhasePending, domain.PhaseLocking); err != nil {
			t.Fatalf("AdvancePhase: %v", err)
		}

		got, err := repo.Get(ctx, "run-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Phase != domain.PhaseLocking {
			t.Errorf("Phase = %q, want %q", got.Phase, domain.PhaseLocking)
		}
	})

	t.Run("AdvancePhaseConflict", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, newAttempt("run-1", t0)); err != nil {
			t.Fatal(err)
		}
		if err := repo.AdvancePhase(ctx, "run-1", domain.PhasePending, domain.PhaseLocking); err != nil {
			t.Fatal(err)
		}

		// A stale writer that still believes the attempt is pending loses.
		err := repo.AdvancePhase(ctx, "run-1", domain.PhasePending, domain.PhaseLocking)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("stale AdvancePhase: got %v, want ErrConflict", err)
		}
	})

	t.Run("AdvancePhaseInvalidTransition", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, newAttempt("run-1", t0)); err != nil {
			t.Fatal(err)
		}
		err := repo.AdvancePhase(ctx, "run-1", domain.PhasePending, domain.PhaseVerifying)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("AdvancePhase: got %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("Finalize", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, newAttempt("run-1", t0)); err != nil {
			t.Fatal(err)
		}
		completed := t0.Add(10 * time.Minute)
		err := repo.Finalize(ctx, "run-1", domain.PhasePending,
			domain.OutcomeFailed, domain.ReasonNotConfigured, "no default target for dev", completed)
		if err != nil {
			t.Fatalf("Finalize: %v", err)
		}

		got, err := repo.Get(ctx, "run-1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Phase != domain.PhaseFailed {
			t.Errorf("Phase = %q, want %q", got.Phase, domain.PhaseFailed)
		}
		if got.Outcome != domain.OutcomeFailed || got.Reason != domain.ReasonNotConfigured {
			t.Errorf("Outcome/Reason = %q/%q, want failed/not-configured", got.Outcome, got.Reason)
		}
		if !got.CompletedAt.Equal(completed) {
			t.Errorf("CompletedAt = %v, want %v", got.CompletedAt, completed)
		}
	})

	t.Run("FinalizeConflict", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, newAttempt("run-1", t0)); err != nil {
			t.Fatal(err)
		}
		if err := repo.AdvancePhase(ctx, "run-1", domain.PhasePending, domain.PhaseLocking); err != nil {
			t.Fatal(err)
		}
		err := repo.Finalize(ctx, "run-1", domain.PhasePending,
			domain.OutcomeFailed, domain.ReasonInternal, "", t0)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("Finalize: got %v, want ErrConflict", err)
		}
	})

	t.Run("OldestActive", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		key := domain.TargetKey{Environment: "dev", Label: "primary"}

		first := newAttempt("run-1", t0)
		second := newAttempt("run-2", t0.Add(time.Minute))
		second.Build.Version = "43.deadbeef"
		for _, a := range []domain.DeploymentAttempt{first, second} {
			if err := repo.Create(ctx, a); err != nil {
				t.Fatalf("Create %s: %v", a.RunID, err)
			}
		}

		got, err := repo.OldestActive(ctx, key)
		if err != nil {
			t.Fatalf("OldestActive: %v", err)
		}
		if got.RunID != "run-1" {
			t.Errorf("RunID = %q, want run-1", got.RunID)
		}

		// Finishing the older attempt promotes the next in arrival order.
		if err := repo.Finalize(ctx, "run-1", domain.PhasePending,
			domain.OutcomeAborted, domain.ReasonLockTimeout, "", t0.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}

		got, err = repo.OldestActive(ctx, key)
		if err != nil {
			t.Fatalf("OldestActive after finalize: %v", err)
		}
		if got.RunID != "run-2" {
			t.Errorf("RunID = %q, want run-2", got.RunID)
		}
	})

	t.Run("OldestActiveNone", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.OldestActive(context.Background(), domain.TargetKey{Environment: "dev", Label: "primary"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("OldestActive: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Operations", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, newAttempt("run-1", t0)); err != nil {
			t.Fatal(err)
		}

		op := domain.StackSetOperation{
			RunID:        "run-1",
			Account:      "111111111111",
			Region:       "us-east-1",
			Handle:       "op-abc",
			Status:       domain.OperationInProgress,
			LastPolledAt: t0,
		}
		if err := repo.PutOperation(ctx, op); err != nil {
			t.Fatalf("PutOperation: %v", err)
		}

		op.Status = domain.OperationFailed
		op.ErrorDetail = "stack rollback"
		if err := repo.PutOperation(ctx, op); err != nil {
			t.Fatalf("PutOperation update: %v", err)
		}

		ops, err := repo.ListOperations(ctx, "run-1")
		if err != nil {
			t.Fatalf("ListOperations: %v", err)
		}
		if len(ops) != 1 {
			t.Fatalf("ListOperations: got %d, want 1", len(ops))
		}
		if ops[0].Status != domain.OperationFailed || ops[0].ErrorDetail != "stack rollback" {
			t.Errorf("operation = %+v, want failed with detail", ops[0])
		}
	})
}
