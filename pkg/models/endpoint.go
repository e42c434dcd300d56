package models

import (
	"encoding/json"
	"time"
)

// Endpoint is one candidate base URL the router may send requests to.
// Lower Priority values are preferred. Timeout travels as timeout_ms in JSON.
type Endpoint struct {
	ID       string            `json:"id" yaml:"id"`
	Name     string            `json:"name" yaml:"name"`
	BaseURL  string            `json:"base_url" yaml:"base_url"`
	Timeout  time.Duration     `json:"-" yaml:"timeout"`
	Priority int               `json:"priority" yaml:"priority"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}

type endpointJSON struct {
	endpointFields
	TimeoutMS int64 `json:"timeout_ms"`
}

type endpointFields Endpoint

func (e Endpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(endpointJSON{
		endpointFields: endpointFields(e),
		TimeoutMS:      e.Timeout.Milliseconds(),
	})
}

func (e *Endpoint) UnmarshalJSON(data []byte) error {
	var decoded endpointJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*e = Endpoint(decoded.endpointFields)
	e.Timeout = time.Duration(decoded.TimeoutMS) * time.Millisecond
	return nil
}

// DisplayName returns Name, falling back to ID.
func (e Endpoint) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ID
}
