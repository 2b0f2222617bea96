package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skylift/skylift-server/internal/domain"
)

// fakeParams is a ParameterSource with fixed base and per-environment maps.
type fakeParams struct {
	base map[string]string
	envs map[string]map[string]string
}

func (f *fakeParams) Base(context.Context) (map[string]string, error) {
	return f.base, nil
}

func (f *fakeParams) Environment(_ context.Context, environment string) (map[string]string, error) {
	return f.envs[environment], nil
}

// workflowFixture wires a complete workflow over in-memory ports.
type workflowFixture struct {
	wf         *domain.OrchestrationWorkflow
	builds     *memBuilds
	targets    *memTargets
	attempts   *memAttempts
	locks      *memLocks
	stackSets  *fakeStackSets
	promotions *memPromotions
	submitter  *recordingSubmitter
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	f := &workflowFixture{
		builds:     newMemBuilds(),
		targets:    newMemTargets(),
		attempts:   newMemAttempts(),
		locks:      newMemLocks(),
		stackSets:  newFakeStackSets(),
		promotions: newMemPromotions(),
		submitter:  &recordingSubmitter{},
	}
	manager := &domain.LockManager{Locks: f.locks}
	f.wf = &domain.OrchestrationWorkflow{
		Builds:   f.builds,
		Targets:  f.targets,
		Attempts: f.attempts,
		Locks:    manager,
		FanOut: &domain.FanOutController{
			Client:            f.stackSets,
			Attempts:          f.attempts,
			Locks:             manager,
			PollInterval:      time.Millisecond,
			MaxPollInterval:   5 * time.Millisecond,
			Timeout:           2 * time.Second,
			HeartbeatInterval: 50 * time.Millisecond,
			LockTTL:           time.Minute,
		},
		Params: &fakeParams{
			base: map[string]string{"LogLevel": "info"},
			envs: map[string]map[string]string{"dev": {"LogLevel": "debug"}},
		},
		Promoter: &domain.PromotionScheduler{
			Targets:    f.targets,
			Builds:     f.builds,
			Promotions: f.promotions,
			Ingest:     f.submitter,
		},
		LockTTL:           time.Minute,
		LockRetryInterval: time.Millisecond,
		LockMaxAttempts:   3,
		ArtifactBucket:    "skylift-artifacts",
		ArtifactPrefix:    "releases",
	}
	return f
}

func (f *workflowFixture) seed(t *testing.T, downstream string) {
	t.Helper()
	ctx := context.Background()

	build := domain.Build{
		Repository:  "acme/checkout",
		Environment: "dev",
		Version:     "42.f00dcafe",
		ArtifactRef: "s3://artifacts/checkout/42.zip",
		CreatedAt:   time.Now(),
	}
	if err := f.builds.Create(ctx, build); err != nil {
		t.Fatal(err)
	}
	if err := f.targets.Put(ctx, domain.Target{
		Environment: "dev", Label: "primary",
		Accounts: []string{"111111111111"}, Regions: []string{"us-east-1"},
		Downstream: downstream, Default: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.attempts.Create(ctx, domain.DeploymentAttempt{
		RunID:       "run-1",
		Build:       build.Key(),
		ArtifactRef: build.ArtifactRef,
		Target:      domain.TargetKey{Environment: "dev", Label: "primary"},
		Phase:       domain.PhasePending,
		StartedAt:   time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
}

func (f *workflowFixture) run(t *testing.T, runID string) (domain.Outcome, *recordingRunner) {
	t.Helper()
	ctx := context.Background()
	recorder := &recordingRunner{ctx: ctx, delegate: &syncRunnerImpl{ctx: ctx}}
	outcome, err := f.wf.Run(recorder, runID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return outcome, recorder
}

func TestOrchestration_HappyPath(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seed(t, "")

	outcome, recorder := f.run(t, "run-1")

	if outcome != domain.OutcomeSucceeded {
		t.Errorf("outcome = %q, want succeeded", outcome)
	}

	attempt, err := f.attempts.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Phase != domain.PhaseCompleted {
		t.Errorf("Phase = %q, want completed", attempt.Phase)
	}
	if attempt.Outcome != domain.OutcomeSucceeded || attempt.Reason != domain.ReasonNone {
		t.Errorf("Outcome/Reason = %q/%q, want succeeded with no reason", attempt.Outcome, attempt.Reason)
	}

	lock, err := f.locks.Get(context.Background(), "dev/primary")
	if err != nil {
		t.Fatal(err)
	}
	if lock.Status != domain.LockReleased {
		t.Errorf("lock status = %q, want released", lock.Status)
	}

	// Releasing the lock is the final activity on every exit path.
	if last := recorder.names[len(recorder.names)-1]; last != "release-lock" {
		t.Errorf("last activity = %q, want release-lock; sequence: %v", last, recorder.names)
	}

	// No downstream configured, so promotion never fires.
	for _, name := range recorder.names {
		if name == "schedule-promotion" {
			t.Error("schedule-promotion invoked without a downstream environment")
		}
	}
}

func TestOrchestration_DownstreamPromotion(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seed(t, "staging")
	if err := f.targets.Put(context.Background(), domain.Target{
		Environment: "staging", Label: "primary",
		Accounts: []string{"222222222222"}, Regions: []string{"us-east-1"},
		Default: true,
	}); err != nil {
		t.Fatal(err)
	}

	outcome, _ := f.run(t, "run-1")

	if outcome != domain.OutcomeSucceeded {
		t.Errorf("outcome = %q, want succeeded", outcome)
	}
	if len(f.submitter.builds) != 1 {
		t.Fatalf("promoted %d builds, want 1", len(f.submitter.builds))
	}
	next := f.submitter.builds[0]
	if next.Environment != "staging" || next.Version != "42.f00dcafe" {
		t.Errorf("promoted build = %s/%s, want staging/42.f00dcafe", next.Environment, next.Version)
	}

	attempt, err := f.attempts.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Phase != domain.PhaseCompleted {
		t.Errorf("Phase = %q, want completed", attempt.Phase)
	}
}

func TestOrchestration_TargetNotConfigured(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seed(t, "")
	if err := f.targets.Delete(context.Background(), domain.TargetKey{Environment: "dev", Label: "primary"}); err != nil {
		t.Fatal(err)
	}

	outcome, _ := f.run(t, "run-1")

	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", outcome)
	}
	attempt, err := f.attempts.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Phase != domain.PhaseFailed || attempt.Reason != domain.ReasonNotConfigured {
		t.Errorf("Phase/Reason = %q/%q, want failed/NotConfigured", attempt.Phase, attempt.Reason)
	}
}

func TestOrchestration_MalformedBuild(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()

	// The stored record is missing its artifact reference, so the shape
	// check fails before any lock is taken.
	if err := f.builds.Create(ctx, domain.Build{
		Repository:  "acme/checkout",
		Environment: "dev",
		Version:     "42.f00dcafe",
		ArtifactRef: "",
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.attempts.Create(ctx, domain.DeploymentAttempt{
		RunID: "run-1",
		Build: domain.BuildKey{Repository: "acme/checkout", Environment: "dev", Version: "42.f00dcafe"},
		Target: domain.TargetKey{Environment: "dev", Label: "primary"},
		Phase:  domain.PhasePending,
	}); err != nil {
		t.Fatal(err)
	}

	outcome, recorder := f.run(t, "run-1")

	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", outcome)
	}
	attempt, err := f.attempts.Get(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Reason != domain.ReasonMalformedBuild {
		t.Errorf("Reason = %q, want MalformedBuild", attempt.Reason)
	}
	for _, name := range recorder.names {
		if name == "acquire-lock" || name == "execute-fanout" {
			t.Errorf("%s invoked for a malformed build", name)
		}
	}
}

func TestOrchestration_LockBusyFailsWithLockTimeout(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seed(t, "")

	// Another live holder owns the target's lock for longer than the
	// bounded retries will wait.
	if _, err := f.locks.Acquire(context.Background(), "dev/primary", "other-run", time.Hour); err != nil {
		t.Fatal(err)
	}

	outcome, _ := f.run(t, "run-1")

	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", outcome)
	}
	attempt, err := f.attempts.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Phase != domain.PhaseFailed || attempt.Reason != domain.ReasonLockTimeout {
		t.Errorf("Phase/Reason = %q/%q, want failed/LockTimeout", attempt.Phase, attempt.Reason)
	}
}

// faultyTargets fails reads with a store-level error.
type faultyTargets struct {
	domain.TargetRepository
	getErr error
}

func (f *faultyTargets) Get(context.Context, domain.TargetKey) (domain.Target, error) {
	return domain.Target{}, f.getErr
}

// faultyLocks fails acquisition with a store-level error.
type faultyLocks struct {
	domain.LockRepository
	acquireErr error
}

func (f *faultyLocks) Acquire(context.Context, string, string, time.Duration) (domain.Lock, error) {
	return domain.Lock{}, f.acquireErr
}

func TestOrchestration_TargetStoreFailureIsInternal(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seed(t, "")
	f.wf.Targets = &faultyTargets{
		TargetRepository: f.targets,
		getErr:           errors.New("store unavailable"),
	}

	outcome, _ := f.run(t, "run-1")

	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", outcome)
	}
	attempt, err := f.attempts.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	// A store outage is not a missing configuration.
	if attempt.Reason != domain.ReasonInternal {
		t.Errorf("Reason = %q, want Internal", attempt.Reason)
	}
}

func TestOrchestration_LockStoreFailureIsInternal(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seed(t, "")
	f.wf.Locks = &domain.LockManager{Locks: &faultyLocks{
		LockRepository: f.locks,
		acquireErr:     errors.New("store unavailable"),
	}}

	outcome, _ := f.run(t, "run-1")

	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", outcome)
	}
	attempt, err := f.attempts.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Reason != domain.ReasonInternal {
		t.Errorf("Reason = %q, want Internal", attempt.Reason)
	}
}

func TestOrchestration_ArrivalOrderBlocksNewerAttempt(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seed(t, "")

	// run-0 arrived earlier for the same target and is still active, so
	// run-1 must not take the lock even though it is free.
	if err := f.attempts.Create(context.Background(), domain.DeploymentAttempt{
		RunID: "run-0",
		Build: domain.BuildKey{Repository: "acme/checkout", Environment: "dev", Version: "41.aaaa0000"},
		Target: domain.TargetKey{Environment: "dev", Label: "primary"},
		Phase:  domain.PhaseLocking,
		StartedAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	outcome, _ := f.run(t, "run-1")

	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", outcome)
	}
	attempt, err := f.attempts.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Reason != domain.ReasonLockTimeout {
		t.Errorf("Reason = %q, want LockTimeout", attempt.Reason)
	}
	if lock, err := f.locks.Get(context.Background(), "dev/primary"); err == nil && lock.Holder == "run-1" {
		t.Error("run-1 acquired the lock ahead of the older attempt")
	}
}

func TestOrchestration_FanOutFailureReleasesLock(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seed(t, "")
	f.stackSets.script("111111111111", "us-east-1", &pairState{
		statuses: []domain.OperationStatus{domain.OperationFailed},
		detail:   "stack rolled back",
	})

	outcome, recorder := f.run(t, "run-1")

	if outcome != domain.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", outcome)
	}
	attempt, err := f.attempts.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if attempt.Phase != domain.PhaseFailed || attempt.Reason != domain.ReasonOperationFailed {
		t.Errorf("Phase/Reason = %q/%q, want failed/OperationFailed", attempt.Phase, attempt.Reason)
	}

	lock, err := f.locks.Get(context.Background(), "dev/primary")
	if err != nil {
		t.Fatal(err)
	}
	if lock.Status != domain.LockReleased {
		t.Errorf("lock status = %q, want released", lock.Status)
	}
	// The failure is finalized before the lock is handed back.
	if last := recorder.names[len(recorder.names)-1]; last != "release-lock" {
		t.Errorf("last activity = %q, want release-lock; sequence: %v", last, recorder.names)
	}
}

func TestOrchestration_ParameterPrecedence(t *testing.T) {
	f := newWorkflowFixture(t)
	f.seed(t, "")
	f.wf.Params = &fakeParams{
		base: map[string]string{
			"LogLevel": "info",
			// Base may override the configured artifact bucket.
			domain.ParamArtifactBucket: "base-bucket",
			// Attempting to pin Env in the store never sticks.
			domain.ParamEnv: "hijacked",
		},
		envs: map[string]map[string]string{
			"dev": {"LogLevel": "debug"},
		},
	}

	outcome, _ := f.run(t, "run-1")
	if outcome != domain.OutcomeSucceeded {
		t.Fatalf("outcome = %q, want succeeded", outcome)
	}

	activity := f.wf.BuildParameters()
	params, err := activity.Run(context.Background(), domain.BuildParametersInput{
		Environment: "dev", Version: "42.f00dcafe",
	})
	if err != nil {
		t.Fatalf("BuildParameters: %v", err)
	}

	if params["LogLevel"] != "debug" {
		t.Errorf("LogLevel = %q, want environment override debug", params["LogLevel"])
	}
	if params[domain.ParamArtifactBucket] != "base-bucket" {
		t.Errorf("ArtifactBucket = %q, want base override base-bucket", params[domain.ParamArtifactBucket])
	}
	if params[domain.ParamEnv] != "dev" {
		t.Errorf("Env = %q, want forced dev", params[domain.ParamEnv])
	}
	if params[domain.ParamVersion] != "42.f00dcafe" {
		t.Errorf("Version = %q, want forced 42.f00dcafe", params[domain.ParamVersion])
	}
	if params[domain.ParamArtifactPrefix] != "releases" {
		t.Errorf("ArtifactPrefix = %q, want configured releases", params[domain.ParamArtifactPrefix])
	}
}
