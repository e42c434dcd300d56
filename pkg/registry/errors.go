package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is matched by every ConfigError.
	ErrConfig = errors.New("invalid endpoint configuration")

	// ErrEndpointNotFound is returned when an endpoint id is not registered.
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// ConfigError describes why an endpoint set was rejected.
type ConfigError struct {
	EndpointID string
	Reason     string
}

func (e *ConfigError) Error() string {
	if e.EndpointID == "" {
		return fmt.Sprintf("%s: %s", ErrConfig, e.Reason)
	}
	return fmt.Sprintf("%s: endpoint %q: %s", ErrConfig, e.EndpointID, e.Reason)
}

// Is reports whether target is ErrConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}
