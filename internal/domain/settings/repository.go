package settings

import "context"

// Repository is a flat key/value store for runtime-tunable settings.
// The dispatch policy lives here so it can be changed without a restart.
type Repository interface {
	Get(ctx context.Context, key string) (string, error)
	GetAll(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}
