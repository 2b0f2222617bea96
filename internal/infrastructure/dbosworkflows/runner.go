// Package dbosworkflows runs deployment attempts on the DBOS Transact
// Go SDK, each activity checkpointed as a DBOS step.
package dbosworkflows

import (
	"context"
	"fmt"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/skylift/skylift-server/internal/domain"
)

// activityInvoker wraps one activity's RunAsStep call, binding the
// concrete output type at construction time.
type activityInvoker func(ctx dbos.DBOSContext, in any) (any, error)

// Engine implements [domain.WorkflowEngine] on DBOS. Runners must be
// created before [dbos.Launch] and invoked only after it.
type Engine struct {
	DBOSCtx dbos.DBOSContext
}

func (e *Engine) OrchestrationRunner(wf *domain.OrchestrationWorkflow) (domain.OrchestrationRunner, error) {
	invokers := make(map[string]activityInvoker)

	registerActivity(invokers, wf.LoadAttempt())
	registerActivity(invokers, wf.AdvancePhase())
	registerActivity(invokers, wf.ResolveTarget())
	registerActivity(invokers, wf.AcquireLock())
	registerActivity(invokers, wf.BuildParameters())
	registerActivity(invokers, wf.ExecuteFanOut())
	registerActivity(invokers, wf.FinalizeAttempt())
	registerActivity(invokers, wf.SchedulePromotion())
	registerActivity(invokers, wf.ReleaseLock())

	wfFunc := func(ctx dbos.DBOSContext, runID string) (domain.Outcome, error) {
		runner := &durableRunner{ctx: ctx, invokers: invokers}
		return wf.Run(runner, runID)
	}

	dbos.RegisterWorkflow(e.DBOSCtx, wfFunc, dbos.WithWorkflowName(wf.Name()))

	return &orchestrationRunner{
		dbosCtx: e.DBOSCtx,
		wfFunc:  wfFunc,
	}, nil
}

// registerActivity builds a typed invoker around [dbos.RunAsStep] so the
// step result deserializes into O on replay rather than a bare map.
func registerActivity[I, O any](invokers map[string]activityInvoker, activity domain.Activity[I, O]) {
	invokers[activity.Name()] = func(ctx dbos.DBOSContext, in any) (any, error) {
		return dbos.RunAsStep(ctx, func(stepCtx context.Context) (O, error) {
			return activity.Run(stepCtx, in.(I))
		}, dbos.WithStepName(activity.Name()))
	}
}

type durableRunner struct {
	ctx      dbos.DBOSContext
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	id, _ := dbos.GetWorkflowID(r.ctx)
	return id
}

func (r *durableRunner) Context() context.Context {
	return r.ctx
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke(r.ctx, in)
}

type orchestrationRunner struct {
	dbosCtx dbos.DBOSContext
	wfFunc  dbos.Workflow[string, domain.Outcome]
}

func (r *orchestrationRunner) Run(ctx context.Context, runID string) (domain.WorkflowHandle[domain.Outcome], error) {
	handle, err := dbos.RunWorkflow(r.dbosCtx, r.wfFunc, runID)
	if err != nil {
		return nil, fmt.Errorf("run DBOS workflow: %w", err)
	}
	return &workflowHandle{handle: handle}, nil
}

type workflowHandle struct {
	handle dbos.WorkflowHandle[domain.Outcome]
}

func (h *workflowHandle) WorkflowID() string {
	return h.handle.GetWorkflowID()
}

func (h *workflowHandle) AwaitResult(_ context.Context) (domain.Outcome, error) {
	return h.handle.GetResult()
}
