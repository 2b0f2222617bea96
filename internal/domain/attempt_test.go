package domain_test

import (
	"testing"

	"github.com/skylift/skylift-server/internal/domain"
)

func TestPhase_CanAdvance(t *testing.T) {
	tests := []struct {
		from, to domain.Phase
		want     bool
	}{
		{domain.PhasePending, domain.PhaseLocking, true},
		{domain.PhaseLocking, domain.PhaseDeploying, true},
		{domain.PhaseDeploying, domain.PhaseVerifying, true},
		{domain.PhaseVerifying, domain.PhasePromoting, true},
		{domain.PhaseVerifying, domain.PhaseCompleted, true},
		{domain.PhasePromoting, domain.PhaseCompleted, true},

		// Failure is reachable from every non-terminal phase except
		// promoting: a verified deployment is never retroactively failed.
		{domain.PhasePending, domain.PhaseFailed, true},
		{domain.PhaseLocking, domain.PhaseFailed, true},
		{domain.PhaseDeploying, domain.PhaseFailed, true},
		{domain.PhaseVerifying, domain.PhaseFailed, true},
		{domain.PhasePromoting, domain.PhaseFailed, false},

		// Skips and reversals.
		{domain.PhasePending, domain.PhaseDeploying, false},
		{domain.PhasePending, domain.PhaseVerifying, false},
		{domain.PhaseLocking, domain.PhaseVerifying, false},
		{domain.PhaseDeploying, domain.PhaseLocking, false},
		{domain.PhaseDeploying, domain.PhaseCompleted, false},
		{domain.PhaseVerifying, domain.PhaseDeploying, false},

		// Terminal phases never advance.
		{domain.PhaseCompleted, domain.PhaseFailed, false},
		{domain.PhaseFailed, domain.PhasePending, false},
		{domain.PhaseCompleted, domain.PhasePromoting, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanAdvance(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPhase_Terminal(t *testing.T) {
	terminal := map[domain.Phase]bool{
		domain.PhasePending:   false,
		domain.PhaseLocking:   false,
		domain.PhaseDeploying: false,
		domain.PhaseVerifying: false,
		domain.PhasePromoting: false,
		domain.PhaseCompleted: true,
		domain.PhaseFailed:    true,
	}
	for phase, want := range terminal {
		if got := phase.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", phase, got, want)
		}
	}
}

func TestOperationStatus_TerminalOp(t *testing.T) {
	tests := []struct {
		status domain.OperationStatus
		want   bool
	}{
		{domain.OperationPending, false},
		{domain.OperationInProgress, false},
		{domain.OperationSucceeded, true},
		{domain.OperationFailed, true},
		{domain.OperationTimedOut, true},
	}
	for _, tt := range tests {
		if got := tt.status.TerminalOp(); got != tt.want {
			t.Errorf("%s.TerminalOp() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
