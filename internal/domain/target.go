package domain

import "fmt"

// Target is one deployment destination definition for an environment: the
// accounts and regions it deploys to, plus an optional downstream
// environment that successful deployments promote into. An environment may
// carry several target profiles; exactly one is the default used at
// dispatch time.
type Target struct {
	Environment string
	Label       string
	Accounts    []string
	Regions     []string
	Downstream  string
	Default     bool
}

// TargetKey is the unique identity of a target profile. It doubles as the
// lock key: at most one attempt deploys against a key at a time.
type TargetKey struct {
	Environment string
	Label       string
}

func (t Target) Key() TargetKey {
	return TargetKey{Environment: t.Environment, Label: t.Label}
}

// LockKey renders the key in the form stored by lock repositories.
func (k TargetKey) LockKey() string {
	return k.Environment + "/" + k.Label
}

// Validate checks the write-time invariants that do not require registry
// state. Cycle detection over downstream pointers needs the full registry
// and lives in the registry service.
func (t Target) Validate() error {
	if t.Environment == "" {
		return fmt.Errorf("%w: target environment is required", ErrInvalidArgument)
	}
	if t.Label == "" {
		return fmt.Errorf("%w: target label is required", ErrInvalidArgument)
	}
	if len(t.Accounts) == 0 {
		return fmt.Errorf("%w: target needs at least one account", ErrInvalidArgument)
	}
	for _, a := range t.Accounts {
		if a == "" {
			return fmt.Errorf("%w: target account identifiers must be non-empty", ErrInvalidArgument)
		}
	}
	if len(t.Regions) == 0 {
		return fmt.Errorf("%w: target needs at least one region", ErrInvalidArgument)
	}
	for _, r := range t.Regions {
		if r == "" {
			return fmt.Errorf("%w: target regions must be non-empty", ErrInvalidArgument)
		}
	}
	if t.Downstream == t.Environment && t.Downstream != "" {
		return fmt.Errorf("%w: target downstream must not equal its own environment", ErrInvalidArgument)
	}
	return nil
}
