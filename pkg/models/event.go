package models

import "time"

// EventType names a router notification.
type EventType string

const (
	EventEndpointChanged EventType = "endpoint-changed"
	EventAllDown         EventType = "all-backends-down"
)

// Event is published to subscribers when the current endpoint changes or
// every endpoint has become unreachable.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	EndpointID string    `json:"endpoint_id,omitempty"`
	Previous   string    `json:"previous_endpoint_id,omitempty"`
	At         time.Time `json:"at"`
}
