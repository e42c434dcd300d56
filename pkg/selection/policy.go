// Package selection decides which endpoint the router should use next.
package selection

import "qrgate/pkg/models"

// Decision is the outcome of a selection.
type Decision struct {
	EndpointID string
	// NoneOnline is set when no endpoint is currently online; in automatic
	// mode EndpointID is then the most preferred endpoint regardless of status.
	NoneOnline bool
	// Pinned is set when a manual override was honored.
	Pinned bool
	// StaleOverride carries a manual override id that is no longer registered.
	StaleOverride string
}

// Policy picks an endpoint from a priority-ordered list and a health table.
// Implementations perform no I/O.
type Policy interface {
	Mode() models.Mode
	Select(endpoints []models.Endpoint, table map[string]models.EndpointHealth) Decision
}

var (
	_ Policy = Automatic{}
	_ Policy = Manual{}
)

// Automatic picks the most preferred online endpoint.
type Automatic struct{}

func (Automatic) Mode() models.Mode { return models.ModeAutomatic }

// Select returns the first online endpoint, or the first endpoint with
// NoneOnline set when nothing is online.
func (Automatic) Select(endpoints []models.Endpoint, table map[string]models.EndpointHealth) Decision {
	if len(endpoints) == 0 {
		return Decision{NoneOnline: true}
	}
	for _, endpoint := range endpoints {
		if table[endpoint.ID].Status == models.StatusOnline {
			return Decision{EndpointID: endpoint.ID}
		}
	}
	return Decision{EndpointID: endpoints[0].ID, NoneOnline: true}
}

// Manual pins one endpoint regardless of its health.
type Manual struct {
	EndpointID string
}

func (Manual) Mode() models.Mode { return models.ModeManual }

// Select returns the pinned endpoint while it is registered and falls back
// to Automatic otherwise.
func (m Manual) Select(endpoints []models.Endpoint, table map[string]models.EndpointHealth) Decision {
	if m.EndpointID != "" {
		for _, endpoint := range endpoints {
			if endpoint.ID == m.EndpointID {
				return Decision{
					EndpointID: endpoint.ID,
					Pinned:     true,
					NoneOnline: !anyOnline(endpoints, table),
				}
			}
		}
	}

	decision := Automatic{}.Select(endpoints, table)
	decision.StaleOverride = m.EndpointID
	return decision
}

func anyOnline(endpoints []models.Endpoint, table map[string]models.EndpointHealth) bool {
	for _, endpoint := range endpoints {
		if table[endpoint.ID].Status == models.StatusOnline {
			return true
		}
	}
	return false
}

// AllOffline reports whether every endpoint is known to be offline.
func AllOffline(endpoints []models.Endpoint, table map[string]models.EndpointHealth) bool {
	if len(endpoints) == 0 {
		return false
	}
	for _, endpoint := range endpoints {
		if table[endpoint.ID].Status != models.StatusOffline {
			return false
		}
	}
	return true
}

// ForState builds the policy for a persisted selection state.
func ForState(state models.SelectionState) Policy {
	if state.Normalized().Mode == models.ModeManual {
		return Manual{EndpointID: state.ManualOverrideID}
	}
	return Automatic{}
}
