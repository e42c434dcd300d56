package models

import "time"

// HealthStatus is the reachability state of an endpoint.
type HealthStatus string

const (
	StatusUnknown HealthStatus = "unknown"
	StatusOnline  HealthStatus = "online"
	StatusOffline HealthStatus = "offline"
)

// EndpointHealth tracks the observed health of a single endpoint.
type EndpointHealth struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastCheckedAt       time.Time    `json:"last_checked_at"`
	LastError           string       `json:"last_error,omitempty"`
}

// EndpointSnapshot pairs an endpoint with its health for display.
type EndpointSnapshot struct {
	Endpoint  Endpoint       `json:"endpoint"`
	Health    EndpointHealth `json:"health"`
	IsCurrent bool           `json:"is_current"`
}
