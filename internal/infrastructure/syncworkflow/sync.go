// Package syncworkflow provides a synchronous, in-process [domain.WorkflowEngine].
// Activities execute inline with no persistence or replay.
package syncworkflow

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/skylift/skylift-server/internal/domain"
)

var runCounter atomic.Int64

// Engine implements [domain.WorkflowEngine] with synchronous, in-process
// execution. No durable state is kept.
type Engine struct{}

func (e *Engine) OrchestrationRunner(wf *domain.OrchestrationWorkflow) (domain.OrchestrationRunner, error) {
	return &runner{wf: wf}, nil
}

type runner struct {
	wf *domain.OrchestrationWorkflow
}

func (r *runner) Run(ctx context.Context, runID string) (domain.WorkflowHandle[domain.Outcome], error) {
	id := runCounter.Add(1)
	dr := &syncRunner{id: id, ctx: ctx}
	outcome, err := r.wf.Run(dr, runID)
	return &handle{id: id, outcome: outcome, err: err}, nil
}

type syncRunner struct {
	id  int64
	ctx context.Context
}

func (r *syncRunner) ID() string               { return fmt.Sprintf("sync-%d", r.id) }
func (r *syncRunner) Context() context.Context { return r.ctx }
func (r *syncRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(r.ctx, in)
}

type handle struct {
	id      int64
	outcome domain.Outcome
	err     error
}

func (h *handle) WorkflowID() string { return fmt.Sprintf("sync-%d", h.id) }
func (h *handle) AwaitResult(_ context.Context) (domain.Outcome, error) {
	return h.outcome, h.err
}
