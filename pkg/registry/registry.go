// Package registry holds the fixed, priority-ordered set of candidate endpoints.
package registry

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"qrgate/pkg/models"
)

// DefaultTimeout applies to endpoints configured without a timeout.
const DefaultTimeout = 10 * time.Second

// Registry is an immutable, priority-ordered endpoint set.
type Registry struct {
	endpoints []models.Endpoint
	index     map[string]int
}

// New validates the endpoints and orders them by ascending priority.
// Endpoints sharing a priority keep their configured order.
func New(endpoints []models.Endpoint) (*Registry, error) {
	if len(endpoints) == 0 {
		return nil, &ConfigError{Reason: "at least one endpoint is required"}
	}

	ordered := make([]models.Endpoint, 0, len(endpoints))
	seen := make(map[string]struct{}, len(endpoints))
	for _, endpoint := range endpoints {
		if endpoint.ID == "" {
			return nil, &ConfigError{Reason: "endpoint id is required"}
		}
		if _, dup := seen[endpoint.ID]; dup {
			return nil, &ConfigError{EndpointID: endpoint.ID, Reason: "duplicate endpoint id"}
		}
		seen[endpoint.ID] = struct{}{}

		if err := validateBaseURL(endpoint.BaseURL); err != nil {
			return nil, &ConfigError{EndpointID: endpoint.ID, Reason: err.Error()}
		}
		if endpoint.Timeout < 0 {
			return nil, &ConfigError{EndpointID: endpoint.ID, Reason: "timeout must not be negative"}
		}
		if endpoint.Timeout == 0 {
			endpoint.Timeout = DefaultTimeout
		}
		endpoint.BaseURL = strings.TrimRight(endpoint.BaseURL, "/")
		endpoint.Metadata = cloneMetadata(endpoint.Metadata)
		ordered = append(ordered, endpoint)
	}

	slices.SortStableFunc(ordered, func(a, b models.Endpoint) int {
		return a.Priority - b.Priority
	})

	index := make(map[string]int, len(ordered))
	for i, endpoint := range ordered {
		index[endpoint.ID] = i
	}

	return &Registry{endpoints: ordered, index: index}, nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("base url must start with http:// or https://")
	}
	if parsed.Host == "" {
		return fmt.Errorf("base url has no host")
	}
	return nil
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// List returns the endpoints sorted by ascending priority.
func (r *Registry) List() []models.Endpoint {
	endpoints := slices.Clone(r.endpoints)
	for i := range endpoints {
		endpoints[i].Metadata = cloneMetadata(endpoints[i].Metadata)
	}
	return endpoints
}

// Find returns the endpoint with the given id.
func (r *Registry) Find(id string) (models.Endpoint, error) {
	i, ok := r.index[id]
	if !ok {
		return models.Endpoint{}, fmt.Errorf("%w: %q", ErrEndpointNotFound, id)
	}
	endpoint := r.endpoints[i]
	endpoint.Metadata = cloneMetadata(endpoint.Metadata)
	return endpoint, nil
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	_, ok := r.index[id]
	return ok
}

// Len returns the number of endpoints.
func (r *Registry) Len() int {
	return len(r.endpoints)
}

// Primary returns the most preferred endpoint.
func (r *Registry) Primary() models.Endpoint {
	endpoint := r.endpoints[0]
	endpoint.Metadata = cloneMetadata(endpoint.Metadata)
	return endpoint
}
