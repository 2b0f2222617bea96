package application

import (
	"context"
	"fmt"
	"time"

	"github.com/skylift/skylift-server/internal/domain"
)

// OrchestrationService executes deployment attempts as workflows on the
// configured engine.
type OrchestrationService struct {
	Workflow domain.OrchestrationRunner

	// AttemptDeadline bounds a fully awaited attempt. Exceeding it fails
	// the attempt; in-flight StackSet operations are left to finish on
	// their own. Zero means no deadline beyond the fan-out's own timeout.
	AttemptDeadline time.Duration
}

// Start launches the attempt's workflow. On a durable engine this returns
// as soon as the instance is created; on the synchronous engine it returns
// when the attempt is finished.
func (o *OrchestrationService) Start(ctx context.Context, runID string) error {
	_, err := o.Workflow.Run(ctx, runID)
	if err != nil {
		return fmt.Errorf("start orchestration workflow: %w", err)
	}
	return nil
}

// Orchestrate starts the attempt's workflow and waits for its outcome.
func (o *OrchestrationService) Orchestrate(ctx context.Context, runID string) (domain.Outcome, error) {
	if o.AttemptDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.AttemptDeadline)
		defer cancel()
	}
	handle, err := o.Workflow.Run(ctx, runID)
	if err != nil {
		return domain.OutcomeFailed, fmt.Errorf("start orchestration workflow: %w", err)
	}
	return handle.AwaitResult(ctx)
}
