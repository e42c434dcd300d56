package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ModelsTestSuite tests the small helpers on data types
type ModelsTestSuite struct {
	suite.Suite
}

// TestParseMode tests mode validation
func (s *ModelsTestSuite) TestParseMode() {
	mode, err := ParseMode("manual")
	s.Require().NoError(err)
	s.Equal(ModeManual, mode)

	mode, err = ParseMode("automatic")
	s.Require().NoError(err)
	s.Equal(ModeAutomatic, mode)

	_, err = ParseMode("")
	s.Error(err)
	_, err = ParseMode("Manual")
	s.Error(err)
}

// TestSelectionStateNormalized tests the default mode
func (s *ModelsTestSuite) TestSelectionStateNormalized() {
	s.Equal(ModeAutomatic, SelectionState{}.Normalized().Mode)
	s.Equal(ModeManual, SelectionState{Mode: ModeManual}.Normalized().Mode)
}

// TestSelectionStateJSON tests the persisted shape
func (s *ModelsTestSuite) TestSelectionStateJSON() {
	data, err := json.Marshal(SelectionState{Mode: ModeManual, ManualOverrideID: "backup"})
	s.Require().NoError(err)
	s.JSONEq(`{"mode":"manual","manual_override_id":"backup"}`, string(data))

	data, err = json.Marshal(SelectionState{Mode: ModeAutomatic})
	s.Require().NoError(err)
	s.JSONEq(`{"mode":"automatic"}`, string(data))
}

// TestEndpointJSON tests that the timeout is exposed in milliseconds
func (s *ModelsTestSuite) TestEndpointJSON() {
	endpoint := Endpoint{
		ID:       "render",
		BaseURL:  "https://render.example.com/api",
		Timeout:  10 * time.Second,
		Priority: 1,
		Metadata: map[string]string{"specs": "2 vCPU"},
	}

	data, err := json.Marshal(endpoint)
	s.Require().NoError(err)
	s.JSONEq(`{"id":"render","name":"","base_url":"https://render.example.com/api","timeout_ms":10000,"priority":1,"metadata":{"specs":"2 vCPU"}}`, string(data))

	var decoded Endpoint
	s.Require().NoError(json.Unmarshal(data, &decoded))
	s.Equal(endpoint, decoded)

	data, err = json.Marshal(EndpointSnapshot{Endpoint: endpoint})
	s.Require().NoError(err)
	s.Contains(string(data), `"timeout_ms":10000`)
	s.NotContains(string(data), `"timeout":`)
}

// TestDisplayName tests the name fallback
func (s *ModelsTestSuite) TestDisplayName() {
	s.Equal("Render (Primary)", Endpoint{ID: "render", Name: "Render (Primary)"}.DisplayName())
	s.Equal("render", Endpoint{ID: "render"}.DisplayName())
}

func TestModelsSuite(t *testing.T) {
	suite.Run(t, new(ModelsTestSuite))
}
