package models

import "fmt"

// Mode selects how the current endpoint is chosen.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

// ParseMode validates a mode string.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeAutomatic, ModeManual:
		return Mode(value), nil
	default:
		return "", fmt.Errorf("invalid selection mode %q", value)
	}
}

// SelectionState is the persisted user choice. The zero value is automatic
// mode without an override.
type SelectionState struct {
	Mode             Mode   `json:"mode"`
	ManualOverrideID string `json:"manual_override_id,omitempty"`
}

// Normalized fills in the default mode.
func (s SelectionState) Normalized() SelectionState {
	if s.Mode == "" {
		s.Mode = ModeAutomatic
	}
	return s
}
