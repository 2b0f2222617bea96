package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skylift/skylift-server/internal/ctxlog"
)

// OrchestrationWorkflow drives one deployment attempt through the phase
// machine: acquire the target's lock, fan out the StackSet operations,
// verify, promote downstream on success, and release the lock on every
// exit path. Each side-effecting step is a named activity so durable
// engines can replay the workflow without re-running completed work.
type OrchestrationWorkflow struct {
	Builds   BuildRepository
	Targets  TargetRepository
	Attempts AttemptRepository
	Locks    *LockManager
	FanOut   *FanOutController
	Params   ParameterSource
	Promoter *PromotionScheduler

	LockTTL           time.Duration
	LockRetryInterval time.Duration
	LockMaxAttempts   int

	ArtifactBucket string
	ArtifactPrefix string

	Now func() time.Time
}

func (wf *OrchestrationWorkflow) Name() string { return "deployment-orchestration" }

func (wf *OrchestrationWorkflow) now() time.Time {
	if wf.Now != nil {
		return wf.Now()
	}
	return time.Now()
}

// AttemptContext is the loaded state a run operates on.
type AttemptContext struct {
	Attempt DeploymentAttempt
	Build   Build
}

// AdvanceInput moves an attempt between phases with an expected-from CAS.
type AdvanceInput struct {
	RunID string
	From  Phase
	To    Phase
}

// AcquireLockInput identifies the lock to take for a run.
type AcquireLockInput struct {
	RunID string
	Key   TargetKey
}

// BuildParametersInput carries the identifiers rendered into the merged
// parameter set.
type BuildParametersInput struct {
	Environment string
	Version     string
}

// FanOutActivityInput is the fan-out request minus the live lock handle,
// which is re-attached inside the activity.
type FanOutActivityInput struct {
	RunID       string
	Accounts    []string
	Regions     []string
	TemplateRef string
	Parameters  map[string]string
	Lock        LockHandle
}

// FinalizeInput records a terminal outcome.
type FinalizeInput struct {
	RunID   string
	From    Phase
	Outcome Outcome
	Reason  FailureReason
	Detail  string
}

// PromoteInput hands a completed attempt to the promotion scheduler.
type PromoteInput struct {
	Attempt DeploymentAttempt
	Target  Target
}

func (wf *OrchestrationWorkflow) LoadAttempt() Activity[string, AttemptContext] {
	return NewActivity("load-attempt", func(ctx context.Context, runID string) (AttemptContext, error) {
		attempt, err := wf.Attempts.Get(ctx, runID)
		if err != nil {
			return AttemptContext{}, fmt.Errorf("load attempt %q: %w", runID, err)
		}
		build, err := wf.Builds.Get(ctx, attempt.Build)
		if err != nil {
			return AttemptContext{}, fmt.Errorf("load build %s: %w", attempt.Build, err)
		}
		return AttemptContext{Attempt: attempt, Build: build}, nil
	})
}

func (wf *OrchestrationWorkflow) AdvancePhase() Activity[AdvanceInput, struct{}] {
	return NewActivity("advance-phase", func(ctx context.Context, in AdvanceInput) (struct{}, error) {
		err := wf.Attempts.AdvancePhase(ctx, in.RunID, in.From, in.To)
		// A replayed activity finds the transition already applied;
		// that is the at-least-once contract, not a conflict.
		if errors.Is(err, ErrConflict) {
			current, gerr := wf.Attempts.Get(ctx, in.RunID)
			if gerr == nil && current.Phase == in.To {
				return struct{}{}, nil
			}
		}
		if err != nil {
			return struct{}{}, err
		}
		ctxlog.FromContext(ctx).InfoContext(ctx, "phase advanced", "run_id", in.RunID, "from", in.From, "to", in.To)
		return struct{}{}, nil
	})
}

func (wf *OrchestrationWorkflow) ResolveTarget() Activity[TargetKey, Target] {
	return NewActivity("resolve-target", func(ctx context.Context, key TargetKey) (Target, error) {
		target, err := wf.Targets.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return Target{}, fmt.Errorf("target %s/%s: %w", key.Environment, key.Label, ErrNotConfigured)
		}
		return target, err
	})
}

// AcquireLock takes the target's lease in arrival order: while an older
// non-terminal attempt exists for the same key, this run backs off as if
// the lock were busy. Retries are bounded; exhaustion surfaces ErrBusy.
func (wf *OrchestrationWorkflow) AcquireLock() Activity[AcquireLockInput, LockHandle] {
	return NewActivity("acquire-lock", func(ctx context.Context, in AcquireLockInput) (LockHandle, error) {
		delay := wf.LockRetryInterval
		for attempt := 0; attempt < wf.LockMaxAttempts; attempt++ {
			if attempt > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return LockHandle{}, ctx.Err()
				case <-timer.C:
				}
				if delay *= 2; delay > 8*wf.LockRetryInterval {
					delay = 8 * wf.LockRetryInterval
				}
			}

			oldest, err := wf.Attempts.OldestActive(ctx, in.Key)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return LockHandle{}, fmt.Errorf("check queue order: %w", err)
			}
			if err == nil && oldest.RunID != in.RunID {
				// An earlier build is still queued or deploying; it
				// must take the lock first.
				continue
			}

			handle, err := wf.Locks.Acquire(ctx, in.Key.LockKey(), in.RunID, wf.LockTTL)
			if err == nil {
				ctxlog.FromContext(ctx).InfoContext(ctx, "lock acquired", "key", handle.Key, "run_id", in.RunID)
				return handle, nil
			}
			if !errors.Is(err, ErrBusy) {
				return LockHandle{}, err
			}
		}
		return LockHandle{}, fmt.Errorf("%w: lock %s not acquired after %d attempts", ErrBusy, in.Key.LockKey(), wf.LockMaxAttempts)
	})
}

func (wf *OrchestrationWorkflow) BuildParameters() Activity[BuildParametersInput, map[string]string] {
	return NewActivity("build-parameters", func(ctx context.Context, in BuildParametersInput) (map[string]string, error) {
		params := map[string]string{
			ParamArtifactBucket: wf.ArtifactBucket,
			ParamArtifactPrefix: wf.ArtifactPrefix,
		}
		base, err := wf.Params.Base(ctx)
		if err != nil {
			return nil, fmt.Errorf("base parameters: %w", err)
		}
		override, err := wf.Params.Environment(ctx, in.Environment)
		if err != nil {
			return nil, fmt.Errorf("environment parameters: %w", err)
		}
		params = MergeParameters(MergeParameters(params, base), override)
		params[ParamEnv] = in.Environment
		params[ParamVersion] = in.Version
		return params, nil
	})
}

func (wf *OrchestrationWorkflow) ExecuteFanOut() Activity[FanOutActivityInput, FanOutResult] {
	return NewActivity("execute-fanout", func(ctx context.Context, in FanOutActivityInput) (FanOutResult, error) {
		lock := in.Lock
		return wf.FanOut.Execute(ctx, FanOutRequest{
			RunID:       in.RunID,
			Accounts:    in.Accounts,
			Regions:     in.Regions,
			TemplateRef: in.TemplateRef,
			Parameters:  in.Parameters,
			Lock:        &lock,
		})
	})
}

func (wf *OrchestrationWorkflow) FinalizeAttempt() Activity[FinalizeInput, struct{}] {
	return NewActivity("finalize-attempt", func(ctx context.Context, in FinalizeInput) (struct{}, error) {
		to := PhaseCompleted
		if in.Outcome != OutcomeSucceeded {
			to = PhaseFailed
		}
		err := wf.Attempts.Finalize(ctx, in.RunID, in.From, in.Outcome, in.Reason, in.Detail, wf.now())
		if errors.Is(err, ErrConflict) {
			current, gerr := wf.Attempts.Get(ctx, in.RunID)
			if gerr == nil && current.Phase == to {
				return struct{}{}, nil
			}
		}
		if err != nil {
			return struct{}{}, err
		}
		ctxlog.FromContext(ctx).InfoContext(ctx, "attempt finalized",
			"run_id", in.RunID, "outcome", in.Outcome, "reason", in.Reason)
		return struct{}{}, nil
	})
}

func (wf *OrchestrationWorkflow) SchedulePromotion() Activity[PromoteInput, struct{}] {
	return NewActivity("schedule-promotion", func(ctx context.Context, in PromoteInput) (struct{}, error) {
		// Promotion failures are reported, not propagated: they never
		// convert a succeeded attempt into a failed one.
		if err := wf.Promoter.Promote(ctx, in.Attempt, in.Target); err != nil {
			ctxlog.FromContext(ctx).ErrorContext(ctx, "promotion failed",
				"run_id", in.Attempt.RunID, "downstream", in.Target.Downstream, "error", err)
		}
		return struct{}{}, nil
	})
}

func (wf *OrchestrationWorkflow) ReleaseLock() Activity[LockHandle, struct{}] {
	return NewActivity("release-lock", func(ctx context.Context, handle LockHandle) (struct{}, error) {
		if err := wf.Locks.Release(ctx, handle); err != nil {
			return struct{}{}, fmt.Errorf("release lock %s: %w", handle.Key, err)
		}
		return struct{}{}, nil
	})
}

// Run executes the state machine for one attempt. The lock, once
// acquired, is released on every path out of the deploying and verifying
// phases, including unexpected activity errors.
func (wf *OrchestrationWorkflow) Run(runner DurableRunner, runID string) (Outcome, error) {
	actx, err := RunActivity(runner, wf.LoadAttempt(), runID)
	if err != nil {
		return OutcomeFailed, err
	}
	attempt := actx.Attempt

	finalize := func(from Phase, outcome Outcome, reason FailureReason, detail string) (Outcome, error) {
		if _, ferr := RunActivity(runner, wf.FinalizeAttempt(), FinalizeInput{
			RunID: runID, From: from, Outcome: outcome, Reason: reason, Detail: detail,
		}); ferr != nil {
			return outcome, ferr
		}
		return outcome, nil
	}

	if err := attempt.Build.validateShape(actx.Build); err != nil {
		if _, aerr := RunActivity(runner, wf.AdvancePhase(), AdvanceInput{RunID: runID, From: PhasePending, To: PhaseLocking}); aerr != nil {
			return OutcomeFailed, aerr
		}
		return finalize(PhaseLocking, OutcomeFailed, ReasonMalformedBuild, err.Error())
	}

	if _, err := RunActivity(runner, wf.AdvancePhase(), AdvanceInput{RunID: runID, From: PhasePending, To: PhaseLocking}); err != nil {
		return OutcomeFailed, err
	}

	target, err := RunActivity(runner, wf.ResolveTarget(), attempt.Target)
	if err != nil {
		reason := ReasonInternal
		if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrNotFound) {
			reason = ReasonNotConfigured
		}
		return finalize(PhaseLocking, OutcomeFailed, reason, err.Error())
	}

	lock, err := RunActivity(runner, wf.AcquireLock(), AcquireLockInput{RunID: runID, Key: target.Key()})
	if err != nil {
		reason := ReasonInternal
		if errors.Is(err, ErrBusy) {
			reason = ReasonLockTimeout
		}
		return finalize(PhaseLocking, OutcomeFailed, reason, err.Error())
	}

	// From here on the lock must be released no matter how the run ends,
	// and releasing is always the last action.
	release := func() {
		if _, rerr := RunActivity(runner, wf.ReleaseLock(), lock); rerr != nil {
			ctxlog.FromContext(runner.Context()).ErrorContext(runner.Context(),
				"lock release failed", "key", lock.Key, "error", rerr)
		}
	}
	finishLocked := func(from Phase, outcome Outcome, reason FailureReason, detail string) (Outcome, error) {
		o, ferr := finalize(from, outcome, reason, detail)
		release()
		return o, ferr
	}

	if _, err := RunActivity(runner, wf.AdvancePhase(), AdvanceInput{RunID: runID, From: PhaseLocking, To: PhaseDeploying}); err != nil {
		release()
		return OutcomeFailed, err
	}

	params, err := RunActivity(runner, wf.BuildParameters(), BuildParametersInput{
		Environment: target.Environment,
		Version:     attempt.Build.Version,
	})
	if err != nil {
		return finishLocked(PhaseDeploying, OutcomeFailed, ReasonInternal, err.Error())
	}

	result, err := RunActivity(runner, wf.ExecuteFanOut(), FanOutActivityInput{
		RunID:       runID,
		Accounts:    target.Accounts,
		Regions:     target.Regions,
		TemplateRef: actx.Build.ArtifactRef,
		Parameters:  params,
		Lock:        lock,
	})
	if err != nil {
		if errors.Is(err, ErrLockLost) {
			return finishLocked(PhaseDeploying, OutcomeAborted, ReasonLockLost, err.Error())
		}
		return finishLocked(PhaseDeploying, OutcomeFailed, ReasonInternal, err.Error())
	}

	if _, err := RunActivity(runner, wf.AdvancePhase(), AdvanceInput{RunID: runID, From: PhaseDeploying, To: PhaseVerifying}); err != nil {
		release()
		return OutcomeFailed, err
	}

	if !result.Succeeded() {
		return finishLocked(PhaseVerifying, OutcomeFailed, result.FailureReason(), result.Detail())
	}

	from := PhaseVerifying
	if target.Downstream != "" {
		if _, err := RunActivity(runner, wf.AdvancePhase(), AdvanceInput{RunID: runID, From: PhaseVerifying, To: PhasePromoting}); err != nil {
			release()
			return OutcomeFailed, err
		}
		if _, err := RunActivity(runner, wf.SchedulePromotion(), PromoteInput{Attempt: attempt, Target: target}); err != nil {
			// Engine-level failure running the activity; the attempt
			// itself still succeeded.
			ctxlog.FromContext(runner.Context()).ErrorContext(runner.Context(),
				"promotion activity failed", "run_id", runID, "error", err)
		}
		from = PhasePromoting
	}

	return finishLocked(from, OutcomeSucceeded, ReasonNone, "")
}

// validateShape checks the loaded build against the attempt's reference.
func (k BuildKey) validateShape(b Build) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.Key() != k {
		return fmt.Errorf("%w: build record %s does not match attempt reference %s", ErrInvalidArgument, b.Key(), k)
	}
	return nil
}
