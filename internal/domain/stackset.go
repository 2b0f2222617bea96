package domain

import (
	"context"
	"time"
)

// OperationStatus is the lifecycle state of one StackSet operation.
type OperationStatus string

const (
	OperationPending    OperationStatus = "pending"
	OperationInProgress OperationStatus = "in-progress"
	OperationSucceeded  OperationStatus = "succeeded"
	OperationFailed     OperationStatus = "failed"
	OperationTimedOut   OperationStatus = "timed-out"
)

// TerminalOp reports whether the status will never change again.
// A timed-out operation is terminal from the attempt's point of view even
// though the underlying CloudFormation operation may still be running; it
// is never treated as success-pending.
func (s OperationStatus) TerminalOp() bool {
	return s == OperationSucceeded || s == OperationFailed || s == OperationTimedOut
}

// StackSetOperation is one create-or-update attempt against one
// (account, region) pair within a deployment attempt. It is created by the
// fan-out controller and updated only by the polling loop that owns it.
type StackSetOperation struct {
	RunID        string
	Account      string
	Region       string
	Handle       string
	Status       OperationStatus
	ErrorDetail  string
	LastPolledAt time.Time
}

// StackSetInput describes one create-or-update operation to issue.
type StackSetInput struct {
	DeploymentID string
	Account      string
	Region       string
	TemplateRef  string
	Parameters   map[string]string
}

// StackSetOpRef identifies an in-flight operation for status polling.
type StackSetOpRef struct {
	DeploymentID string
	Account      string
	Region       string
	Handle       string
}

// StackSetClient issues create-or-update operations against the
// CloudFormation StackSet API and reports their status. The caller is
// assumed to already hold permission to act in every requested
// account/region; role provisioning is outside the engine.
type StackSetClient interface {
	// CreateOrUpdate issues one operation for one (account, region) pair
	// and returns an opaque handle for polling.
	CreateOrUpdate(ctx context.Context, in StackSetInput) (string, error)

	// OperationStatus returns the current status of a previously issued
	// operation plus failure detail when the status is failed.
	OperationStatus(ctx context.Context, ref StackSetOpRef) (OperationStatus, string, error)
}
