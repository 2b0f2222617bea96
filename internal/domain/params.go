package domain

import "context"

// Reserved parameter keys always present on a fan-out request.
const (
	ParamEnv            = "Env"
	ParamVersion        = "Version"
	ParamArtifactBucket = "ArtifactBucket"
	ParamArtifactPrefix = "ArtifactPrefix"
)

// ParameterSource supplies the base and environment-specific deployment
// parameter sets. The remote implementation reads a parameter store; the
// offline implementation returns configured defaults.
type ParameterSource interface {
	// Base returns parameters shared by every environment.
	Base(ctx context.Context) (map[string]string, error)
	// Environment returns the override set for one environment. A
	// missing environment section is an empty map, not an error.
	Environment(ctx context.Context, environment string) (map[string]string, error)
}

// MergeParameters combines a base set with an override set. Overrides win
// on key collision. Neither input is mutated.
func MergeParameters(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
