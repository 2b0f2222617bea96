package awsparams

import "context"

// StaticSource serves parameters from in-memory maps. It backs the
// configuration switch that disables remote parameter-store lookups for
// local and offline testing.
type StaticSource struct {
	BaseParams map[string]string
	EnvParams  map[string]map[string]string
}

func (s *StaticSource) Base(_ context.Context) (map[string]string, error) {
	return copyMap(s.BaseParams), nil
}

func (s *StaticSource) Environment(_ context.Context, environment string) (map[string]string, error) {
	return copyMap(s.EnvParams[environment]), nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
