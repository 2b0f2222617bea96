package domain

import (
	"context"
	"time"
)

// BuildRepository persists immutable build records keyed by
// (repository, environment, version).
type BuildRepository interface {
	Create(ctx context.Context, b Build) error
	Get(ctx context.Context, key BuildKey) (Build, error)
	ListByEnvironment(ctx context.Context, environment string) ([]Build, error)
}

// TargetRepository persists target profiles keyed by (environment, label).
type TargetRepository interface {
	// Put creates or replaces a target profile. When target.Default is
	// set, any previous default for the environment is cleared in the
	// same write.
	Put(ctx context.Context, target Target) error
	Get(ctx context.Context, key TargetKey) (Target, error)
	// GetDefault returns the default profile for an environment, or
	// ErrNotConfigured when none exists.
	GetDefault(ctx context.Context, environment string) (Target, error)
	// List returns all profiles for an environment in label order.
	List(ctx context.Context, environment string) ([]Target, error)
	Delete(ctx context.Context, key TargetKey) error
}

// LockRepository is the conditional-write store behind [LockManager].
// Implementations must make Acquire atomic: it succeeds only if no
// unexpired held lock exists for key, or over one whose TTL has elapsed.
type LockRepository interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (Lock, error)
	// Renew extends the lease; ErrLockLost when the holder no longer owns
	// the key.
	Renew(ctx context.Context, key, holder string, ttl time.Duration) (Lock, error)
	// Release is idempotent; it only releases a lock still owned by holder
	// and silently succeeds otherwise.
	Release(ctx context.Context, key, holder string) error
	Get(ctx context.Context, key string) (Lock, error)
}

// AttemptRepository persists deployment attempts and their per-pair
// operations. Phase mutations are conditional on the expected current
// phase so concurrent retries cannot produce lost updates.
type AttemptRepository interface {
	Create(ctx context.Context, a DeploymentAttempt) error
	Get(ctx context.Context, runID string) (DeploymentAttempt, error)

	// AdvancePhase moves the attempt from an expected phase to the next.
	// ErrConflict when the stored phase is not the expected one,
	// ErrInvalidArgument when the state machine forbids the transition.
	AdvancePhase(ctx context.Context, runID string, from, to Phase) error

	// Finalize records the terminal outcome and moves the attempt into
	// completed or failed with the same expected-phase condition.
	Finalize(ctx context.Context, runID string, from Phase, outcome Outcome, reason FailureReason, detail string, completedAt time.Time) error

	// OldestActive returns the earliest-started non-terminal attempt for
	// a target key, or ErrNotFound when none is active. Used to grant
	// the lock in arrival order.
	OldestActive(ctx context.Context, key TargetKey) (DeploymentAttempt, error)

	// PutOperation creates or replaces the operation row for the
	// (run, account, region) pair.
	PutOperation(ctx context.Context, op StackSetOperation) error
	ListOperations(ctx context.Context, runID string) ([]StackSetOperation, error)
}

// PromotionRepository records promotion firings keyed by the source run id.
// Create must be conditional: a second insert for the same source run
// returns ErrAlreadyExists, which is what makes promotion at-most-once.
type PromotionRepository interface {
	Create(ctx context.Context, sourceRunID, environment string, createdAt time.Time) error
}

// BuildSubmitter re-enters a synthesized build into ingest. The promotion
// scheduler depends on this port rather than the ingest service to keep
// the domain free of application imports.
type BuildSubmitter interface {
	Submit(ctx context.Context, b Build) error
}
