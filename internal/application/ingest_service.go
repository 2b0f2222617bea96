package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skylift/skylift-server/internal/ctxlog"
	"github.com/skylift/skylift-server/internal/domain"
)

// IngestService converts an artifact-arrival event into a build record and
// a deployment attempt, then hands the attempt to the orchestrator. It is
// also the re-entry point for builds synthesized by promotion, which is
// why it implements [domain.BuildSubmitter].
type IngestService struct {
	Builds        domain.BuildRepository
	Targets       domain.TargetRepository
	Attempts      domain.AttemptRepository
	Orchestration *OrchestrationService
	Now           func() time.Time
}

func (s *IngestService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Submit validates and persists the build, creates its attempt in the
// pending phase, and starts orchestration. The attempt runs on the
// orchestration service's substrate; Submit returns once it is started.
func (s *IngestService) Submit(ctx context.Context, b domain.Build) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}

	target, err := s.Targets.GetDefault(ctx, b.Environment)
	if err != nil {
		return fmt.Errorf("resolve target for %q: %w", b.Environment, err)
	}

	if err := s.Builds.Create(ctx, b); err != nil {
		return fmt.Errorf("record build %s: %w", b.Key(), err)
	}

	attempt := domain.DeploymentAttempt{
		RunID:       uuid.NewString(),
		Build:       b.Key(),
		ArtifactRef: b.ArtifactRef,
		Target:      target.Key(),
		Phase:       domain.PhasePending,
		StartedAt:   s.now(),
	}
	if err := s.Attempts.Create(ctx, attempt); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	ctxlog.FromContext(ctx).InfoContext(ctx, "build ingested",
		"build", b.Key().String(), "run_id", attempt.RunID,
		"target", attempt.Target.LockKey())

	if err := s.Orchestration.Start(ctx, attempt.RunID); err != nil {
		return fmt.Errorf("orchestrate: %w", err)
	}
	return nil
}
