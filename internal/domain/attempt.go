package domain

import "time"

// Phase is the orchestrator's position in the deployment state machine.
type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseLocking   Phase = "locking"
	PhaseDeploying Phase = "deploying"
	PhaseVerifying Phase = "verifying"
	PhasePromoting Phase = "promoting"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// transitions is the full transition relation. Failure is reachable from
// every non-terminal phase except promoting: promotion errors are reported
// but never retroactively fail a verified deployment.
var transitions = map[Phase][]Phase{
	PhasePending:   {PhaseLocking, PhaseFailed},
	PhaseLocking:   {PhaseDeploying, PhaseFailed},
	PhaseDeploying: {PhaseVerifying, PhaseFailed},
	PhaseVerifying: {PhasePromoting, PhaseCompleted, PhaseFailed},
	PhasePromoting: {PhaseCompleted},
}

// CanAdvance reports whether the state machine permits moving from p to next.
func (p Phase) CanAdvance(next Phase) bool {
	for _, n := range transitions[p] {
		if n == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Outcome is the terminal result of a deployment attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

// FailureReason is the machine-readable cause recorded on a failed attempt.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonNotConfigured     FailureReason = "NotConfigured"
	ReasonMalformedBuild    FailureReason = "MalformedBuild"
	ReasonLockTimeout       FailureReason = "LockTimeout"
	ReasonLockLost          FailureReason = "LockLost"
	ReasonOperationFailed   FailureReason = "OperationFailed"
	ReasonOperationTimedOut FailureReason = "OperationTimedOut"
	ReasonInternal          FailureReason = "Internal"
)

// DeploymentAttempt is one execution of the orchestrator for one build
// against one target. The row is owned exclusively by its run and becomes
// immutable history once the phase is terminal.
type DeploymentAttempt struct {
	RunID       string
	Build       BuildKey
	ArtifactRef string
	Target      TargetKey
	Phase       Phase
	Outcome     Outcome
	Reason      FailureReason
	Detail      string
	StartedAt   time.Time
	CompletedAt time.Time
}
