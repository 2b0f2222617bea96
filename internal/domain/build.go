package domain

import (
	"fmt"
	"time"
)

// Build identifies one deployable artifact version for one
// (repository, environment) pair. Builds are immutable once created and
// uniquely identified by their [BuildKey].
type Build struct {
	Repository  string
	Environment string
	Version     string
	ArtifactRef string
	CreatedAt   time.Time
}

// BuildKey is the unique identity of a build.
type BuildKey struct {
	Repository  string
	Environment string
	Version     string
}

func (b Build) Key() BuildKey {
	return BuildKey{Repository: b.Repository, Environment: b.Environment, Version: b.Version}
}

func (k BuildKey) String() string {
	return k.Repository + "/" + k.Environment + "@" + k.Version
}

// Validate checks the structural preconditions for ingesting a build.
func (b Build) Validate() error {
	if b.Repository == "" {
		return fmt.Errorf("%w: build repository is required", ErrInvalidArgument)
	}
	if b.Environment == "" {
		return fmt.Errorf("%w: build environment is required", ErrInvalidArgument)
	}
	if b.Version == "" {
		return fmt.Errorf("%w: build version is required", ErrInvalidArgument)
	}
	if b.ArtifactRef == "" {
		return fmt.Errorf("%w: build artifact reference is required", ErrInvalidArgument)
	}
	return nil
}
