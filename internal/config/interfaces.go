package config

import "context"

// SecretProvider resolves secret references into plaintext values. The loader
// asks it for every <NAME>_FILE reference whose <NAME> variable is unset.
type SecretProvider interface {
	// GetParametersBatch resolves the given references. Missing references are
	// omitted from the result rather than reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
