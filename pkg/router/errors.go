package router

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAllBackendsUnavailable is returned when no endpoint could be reached
	// during one logical call.
	ErrAllBackendsUnavailable = errors.New("all backends unavailable")

	// ErrInvalidRequest is returned for requests that cannot be sent anywhere.
	ErrInvalidRequest = errors.New("invalid request")
)

// TransportError is a failure to get any response from an endpoint:
// timeout, refused or reset connection, or a broken response body.
type TransportError struct {
	EndpointID string
	Err        error
	Timeout    bool
}

func (e *TransportError) Error() string {
	kind := "connection failure"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("endpoint %q: %s: %v", e.EndpointID, kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ApplicationError is a non-2xx response from a reachable endpoint.
type ApplicationError struct {
	EndpointID string
	StatusCode int
	Body       []byte
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("endpoint %q returned %d %s", e.EndpointID, e.StatusCode, http.StatusText(e.StatusCode))
}
