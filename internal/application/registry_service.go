package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/skylift/skylift-server/internal/domain"
)

// RegistryService manages the target registry: the configuration surface
// that maps an environment to its accounts, regions, and downstream
// environment.
type RegistryService struct {
	Targets domain.TargetRepository
}

// Set validates and writes a target profile. Beyond the target's own
// invariants it rejects a downstream pointer that would close a promotion
// cycle: following downstream defaults from the new profile must never
// reach the profile's own environment.
func (s *RegistryService) Set(ctx context.Context, target domain.Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if err := s.checkCycle(ctx, target); err != nil {
		return err
	}
	return s.Targets.Put(ctx, target)
}

// Resolve returns the default target profile for an environment.
func (s *RegistryService) Resolve(ctx context.Context, environment string) (domain.Target, error) {
	return s.Targets.GetDefault(ctx, environment)
}

// List returns all profiles configured for an environment, in label order.
func (s *RegistryService) List(ctx context.Context, environment string) ([]domain.Target, error) {
	return s.Targets.List(ctx, environment)
}

// Delete removes a target profile.
func (s *RegistryService) Delete(ctx context.Context, key domain.TargetKey) error {
	return s.Targets.Delete(ctx, key)
}

// checkCycle walks the downstream chain starting at the profile being
// written. The chain is a forward pointer per environment, so a bounded
// walk over the registered environments suffices; an unconfigured
// downstream terminates the walk (it may be configured later, and its own
// write is checked then).
func (s *RegistryService) checkCycle(ctx context.Context, target domain.Target) error {
	seen := map[string]bool{target.Environment: true}
	next := target.Downstream
	for next != "" {
		if seen[next] {
			return fmt.Errorf("%w: downstream chain from %q revisits %q", domain.ErrInvalidArgument, target.Environment, next)
		}
		seen[next] = true
		hop, err := s.Targets.GetDefault(ctx, next)
		if errors.Is(err, domain.ErrNotConfigured) || errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("walk downstream chain: %w", err)
		}
		next = hop.Downstream
	}
	return nil
}
