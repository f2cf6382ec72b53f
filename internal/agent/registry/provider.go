package registry

import "github.com/agentmux/agentmux/internal/common/logger"

// Provide creates the runner registry and loads the catalog.
func Provide(log *logger.Logger) (*Registry, func() error, error) {
	reg := NewRegistry(log)
	if err := reg.Load(); err != nil {
		return nil, nil, err
	}
	return reg, func() error { return nil }, nil
}
