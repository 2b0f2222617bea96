package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skylift/skylift-server/internal/ctxlog"
)

// PromotionScheduler chains environments: after a fully successful
// deployment against a target with a downstream environment, it
// synthesizes a new build carrying the same version and artifact for that
// environment and submits it back to ingest.
type PromotionScheduler struct {
	Targets    TargetRepository
	Builds     BuildRepository
	Promotions PromotionRepository
	Ingest     BuildSubmitter
	Now        func() time.Time
}

func (s *PromotionScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Promote fires the downstream build for a successfully completed attempt.
// No downstream on the target is a no-op (terminal environment). The
// firing is recorded under idempotency key = source run id before the
// build is submitted, so a retried Promote after a partial failure cannot
// schedule a second downstream deployment.
func (s *PromotionScheduler) Promote(ctx context.Context, attempt DeploymentAttempt, target Target) error {
	if target.Downstream == "" {
		return nil
	}
	log := ctxlog.FromContext(ctx).With("run_id", attempt.RunID, "downstream", target.Downstream)

	if _, err := s.Targets.GetDefault(ctx, target.Downstream); err != nil {
		return fmt.Errorf("resolve downstream %q: %w", target.Downstream, err)
	}

	err := s.Promotions.Create(ctx, attempt.RunID, target.Downstream, s.now())
	if errors.Is(err, ErrAlreadyExists) {
		log.InfoContext(ctx, "promotion already fired")
		return nil
	}
	if err != nil {
		return fmt.Errorf("record promotion: %w", err)
	}

	next := Build{
		Repository:  attempt.Build.Repository,
		Environment: target.Downstream,
		Version:     attempt.Build.Version,
		ArtifactRef: attempt.ArtifactRef,
		CreatedAt:   s.now(),
	}
	if err := s.Ingest.Submit(ctx, next); err != nil {
		return fmt.Errorf("submit promoted build: %w", err)
	}

	log.InfoContext(ctx, "promotion scheduled", "version", next.Version)
	return nil
}
