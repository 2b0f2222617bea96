package domain

import "context"

// Activity is a named step of a deployment attempt. Every activity must
// tolerate at-least-once invocation: a durable engine may re-run a step
// whose completion was not recorded before a crash.
type Activity[I any, O any] interface {
	Name() string
	Run(ctx context.Context, in I) (O, error)
}

// NewActivity builds an [Activity] from a stable name and a function.
// The name doubles as the engine-side registration key, so it must not
// change across releases while workflows may still be replaying.
func NewActivity[I, O any](name string, fn func(context.Context, I) (O, error)) Activity[I, O] {
	return &activityFunc[I, O]{name: name, fn: fn}
}

type activityFunc[I, O any] struct {
	name string
	fn   func(context.Context, I) (O, error)
}

func (a *activityFunc[I, O]) Name() string                             { return a.name }
func (a *activityFunc[I, O]) Run(ctx context.Context, in I) (O, error) { return a.fn(ctx, in) }

// DurableRunner is what a workflow body executes against. It runs
// activities with whatever durability the engine offers and exposes a
// context for the pure, non-effectful parts of the body.
type DurableRunner interface {
	// ID is the engine-assigned workflow instance id.
	ID() string

	// Context is the execution context: the deterministic replay context
	// on a durable engine, the caller's context on the synchronous one.
	Context() context.Context

	// Run executes an activity through the engine. Workflow bodies call
	// [RunActivity] instead, which restores the concrete types.
	Run(activity Activity[any, any], in any) (any, error)
}

// RunActivity executes a typed activity on a runner. It exists because
// [DurableRunner.Run] must be any-typed for the engines to implement it
// uniformly.
func RunActivity[I any, O any](runner DurableRunner, activity Activity[I, O], in I) (O, error) {
	result, err := runner.Run(&activityAdapter[I, O]{activity: activity}, in)
	if err != nil {
		var zero O
		return zero, err
	}
	return result.(O), nil
}

// activityAdapter erases an activity's types for [DurableRunner.Run].
type activityAdapter[I any, O any] struct{ activity Activity[I, O] }

func (a *activityAdapter[I, O]) Name() string { return a.activity.Name() }
func (a *activityAdapter[I, O]) Run(ctx context.Context, in any) (any, error) {
	return a.activity.Run(ctx, in.(I))
}

// WorkflowHandle refers to a started orchestration, running or finished.
type WorkflowHandle[O any] interface {
	WorkflowID() string
	AwaitResult(ctx context.Context) (O, error)
}

// OrchestrationRunner starts the deployment workflow for an attempt,
// identified by its run id.
type OrchestrationRunner interface {
	Run(ctx context.Context, runID string) (WorkflowHandle[Outcome], error)
}

// WorkflowEngine builds runners for the workflows the domain defines.
// Each infrastructure engine package implements it once.
type WorkflowEngine interface {
	OrchestrationRunner(wf *OrchestrationWorkflow) (OrchestrationRunner, error)
}
