package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"qrgate/pkg/log"
	"qrgate/pkg/models"
	"qrgate/pkg/registry"
	"qrgate/pkg/store"

	"github.com/rs/zerolog"
)

// DefaultStateKey is the settings key holding the persisted selection.
const DefaultStateKey = "selectedServer"

// Selector owns the persisted SelectionState and applies the matching policy.
type Selector struct {
	kv       store.KV
	key      string
	registry *registry.Registry
	logger   zerolog.Logger

	mu          sync.RWMutex
	state       models.SelectionState
	staleLogged string
}

// Load reads the persisted state under key. A missing or unreadable value
// yields automatic mode without an override.
func Load(ctx context.Context, kv store.KV, key string, reg *registry.Registry) (*Selector, error) {
	if key == "" {
		key = DefaultStateKey
	}

	selector := &Selector{
		kv:       kv,
		key:      key,
		registry: reg,
		logger:   log.Component("selection"),
		state:    models.SelectionState{Mode: models.ModeAutomatic},
	}

	raw, err := kv.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrKeyNotFound):
		return selector, nil
	case err != nil:
		return nil, fmt.Errorf("load selection state: %w", err)
	}

	state, err := decodeState(raw)
	if err != nil {
		selector.logger.Warn().Err(err).Str("key", key).Msg("Ignoring unreadable selection state")
		return selector, nil
	}
	selector.state = state

	if state.ManualOverrideID != "" && !reg.Contains(state.ManualOverrideID) {
		selector.logger.Warn().
			Str("endpoint", state.ManualOverrideID).
			Msg("Persisted manual override is not a configured endpoint")
	}

	selector.logger.Info().
		Str("mode", string(state.Mode)).
		Str("manual_override", state.ManualOverrideID).
		Msg("Selection state loaded")

	return selector, nil
}

// decodeState accepts the JSON form and a bare endpoint id written by older
// clients, which always meant a manual pin.
func decodeState(raw string) (models.SelectionState, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return models.SelectionState{Mode: models.ModeAutomatic}, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return models.SelectionState{Mode: models.ModeManual, ManualOverrideID: trimmed}, nil
	}

	var state models.SelectionState
	if err := json.Unmarshal([]byte(trimmed), &state); err != nil {
		return models.SelectionState{}, err
	}
	state = state.Normalized()
	if _, err := models.ParseMode(string(state.Mode)); err != nil {
		return models.SelectionState{}, err
	}
	return state, nil
}

// State returns the current selection state.
func (s *Selector) State() models.SelectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Policy returns the policy for the current state.
func (s *Selector) Policy() Policy {
	return ForState(s.State())
}

// Select applies the current policy to the registry and health table.
func (s *Selector) Select(table map[string]models.EndpointHealth) Decision {
	decision := s.Policy().Select(s.registry.List(), table)

	if decision.StaleOverride != "" && s.State().Mode == models.ModeManual {
		s.mu.Lock()
		first := s.staleLogged != decision.StaleOverride
		s.staleLogged = decision.StaleOverride
		s.mu.Unlock()

		event := s.logger.Debug()
		if first {
			event = s.logger.Warn()
		}
		event.
			Str("manual_override", decision.StaleOverride).
			Str("endpoint", decision.EndpointID).
			Msg("Manual override is not registered, using automatic selection")
	}

	return decision
}

// SetMode switches between automatic and manual selection and persists it.
func (s *Selector) SetMode(ctx context.Context, mode models.Mode) error {
	if _, err := models.ParseMode(string(mode)); err != nil {
		return err
	}
	return s.update(ctx, func(state *models.SelectionState) {
		state.Mode = mode
	})
}

// SetManualOverride stores the pinned endpoint id. An empty id clears it.
func (s *Selector) SetManualOverride(ctx context.Context, endpointID string) error {
	if endpointID != "" {
		if _, err := s.registry.Find(endpointID); err != nil {
			return err
		}
	}
	return s.update(ctx, func(state *models.SelectionState) {
		state.ManualOverrideID = endpointID
	})
}

// Pin switches to manual mode with endpointID as the override.
func (s *Selector) Pin(ctx context.Context, endpointID string) error {
	return s.Replace(ctx, models.SelectionState{Mode: models.ModeManual, ManualOverrideID: endpointID})
}

// Replace validates and persists a complete state.
func (s *Selector) Replace(ctx context.Context, next models.SelectionState) error {
	next = next.Normalized()
	if _, err := models.ParseMode(string(next.Mode)); err != nil {
		return err
	}
	if next.ManualOverrideID != "" {
		if _, err := s.registry.Find(next.ManualOverrideID); err != nil {
			return err
		}
	}
	return s.update(ctx, func(state *models.SelectionState) {
		*state = next
	})
}

func (s *Selector) update(ctx context.Context, mutate func(state *models.SelectionState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state
	mutate(&next)

	encoded, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode selection state: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(encoded)); err != nil {
		return fmt.Errorf("persist selection state: %w", err)
	}

	s.state = next
	s.staleLogged = ""

	s.logger.Info().
		Str("mode", string(next.Mode)).
		Str("manual_override", next.ManualOverrideID).
		Msg("Selection state changed")
	return nil
}
