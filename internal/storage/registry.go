package storage

import (
	"fmt"
	"sort"

	"github.com/kebairia/cloudbackup/internal/config"
)

// factories builds an unauthenticated backend per configured type.
var factories = map[string]func(cfg config.BackendConfig) (Backend, error){
	config.BackendLocal: func(cfg config.BackendConfig) (Backend, error) {
		return NewLocalBackend(cfg.Local)
	},
	config.BackendS3: func(cfg config.BackendConfig) (Backend, error) {
		return NewS3Backend(cfg.S3)
	},
}

// New returns the backend selected by cfg.Type. The backend must be
// authenticated before use.
func New(cfg config.BackendConfig) (Backend, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported backend type %q (supported: %v)", ErrInvalidConfig, cfg.Type, Types())
	}
	b, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize %s backend: %w", cfg.Type, err)
	}
	return b, nil
}

// Types lists the supported backend types.
func Types() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
