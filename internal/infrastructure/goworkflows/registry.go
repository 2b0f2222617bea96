// Package goworkflows runs deployment attempts on cschleiden/go-workflows,
// with each attempt as a workflow instance and each step as an activity.
package goworkflows

import (
	"context"
	"fmt"
	"time"

	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/registry"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/google/uuid"

	"github.com/skylift/skylift-server/internal/domain"
)

// activityInvoker schedules one activity from inside the workflow with
// its concrete result type, bound at registration time.
type activityInvoker func(wfCtx workflow.Context, in any) (any, error)

// Engine implements [domain.WorkflowEngine] on go-workflows. Timeout
// bounds how long AwaitResult waits for an attempt's outcome.
type Engine struct {
	Worker  *worker.Worker
	Client  *client.Client
	Timeout time.Duration
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return 30 * time.Minute
}

func (e *Engine) OrchestrationRunner(wf *domain.OrchestrationWorkflow) (domain.OrchestrationRunner, error) {
	invokers := make(map[string]activityInvoker)

	registrations := []func() error{
		func() error { return registerActivity(e.Worker, invokers, wf.LoadAttempt()) },
		func() error { return registerActivity(e.Worker, invokers, wf.AdvancePhase()) },
		func() error { return registerActivity(e.Worker, invokers, wf.ResolveTarget()) },
		func() error { return registerActivity(e.Worker, invokers, wf.AcquireLock()) },
		func() error { return registerActivity(e.Worker, invokers, wf.BuildParameters()) },
		func() error { return registerActivity(e.Worker, invokers, wf.ExecuteFanOut()) },
		func() error { return registerActivity(e.Worker, invokers, wf.FinalizeAttempt()) },
		func() error { return registerActivity(e.Worker, invokers, wf.SchedulePromotion()) },
		func() error { return registerActivity(e.Worker, invokers, wf.ReleaseLock()) },
	}
	for _, register := range registrations {
		if err := register(); err != nil {
			return nil, err
		}
	}

	wfFunc := func(ctx workflow.Context, runID string) (domain.Outcome, error) {
		runner := &durableRunner{wfCtx: ctx, invokers: invokers}
		return wf.Run(runner, runID)
	}

	if err := e.Worker.RegisterWorkflow(wfFunc, registry.WithName(wf.Name())); err != nil {
		return nil, fmt.Errorf("register workflow %q: %w", wf.Name(), err)
	}

	return &orchestrationRunner{
		client:  e.Client,
		wfName:  wf.Name(),
		timeout: e.timeout(),
	}, nil
}

// registerActivity registers one typed activity with the worker and
// records the invoker the workflow body uses to schedule it.
func registerActivity[I, O any](
	w *worker.Worker,
	invokers map[string]activityInvoker,
	activity domain.Activity[I, O],
) error {
	activityFn := func(ctx context.Context, in I) (O, error) {
		return activity.Run(ctx, in)
	}

	if err := w.RegisterActivity(activityFn, registry.WithName(activity.Name())); err != nil {
		return fmt.Errorf("register activity %q: %w", activity.Name(), err)
	}

	invokers[activity.Name()] = func(wfCtx workflow.Context, in any) (any, error) {
		result, err := workflow.ExecuteActivity[O](
			wfCtx, workflow.DefaultActivityOptions, activity.Name(), in,
		).Get(wfCtx)
		return result, err
	}

	return nil
}

type durableRunner struct {
	wfCtx    workflow.Context
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	return workflow.WorkflowInstance(r.wfCtx).InstanceID
}

func (r *durableRunner) Context() context.Context {
	return context.Background()
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke(r.wfCtx, in)
}

type orchestrationRunner struct {
	client  *client.Client
	wfName  string
	timeout time.Duration
}

func (r *orchestrationRunner) Run(ctx context.Context, runID string) (domain.WorkflowHandle[domain.Outcome], error) {
	instance, err := r.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: uuid.NewString(),
	}, r.wfName, runID)
	if err != nil {
		return nil, fmt.Errorf("create workflow instance: %w", err)
	}

	return &workflowHandle{
		client:   r.client,
		instance: instance,
		timeout:  r.timeout,
	}, nil
}

type workflowHandle struct {
	client   *client.Client
	instance *workflow.Instance
	timeout  time.Duration
}

func (h *workflowHandle) WorkflowID() string {
	return h.instance.InstanceID
}

func (h *workflowHandle) AwaitResult(ctx context.Context) (domain.Outcome, error) {
	return client.GetWorkflowResult[domain.Outcome](ctx, h.client, h.instance, h.timeout)
}
