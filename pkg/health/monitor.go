// Package health tracks the reachability of every registered endpoint through
// periodic probes and passive reports from real traffic.
package health

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"qrgate/pkg/log"
	"qrgate/pkg/models"
	"qrgate/pkg/registry"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval   = 30 * time.Second
	DefaultHealthPath = "/health"
)

// Source identifies where a health observation came from.
type Source int

const (
	// SourceProbe is a scheduled or on-demand health probe.
	SourceProbe Source = iota
	// SourceTraffic is a real user-facing request.
	SourceTraffic
)

func (s Source) String() string {
	if s == SourceTraffic {
		return "traffic"
	}
	return "probe"
}

// Thresholds sets how many consecutive failures flip an endpoint offline,
// per observation source.
type Thresholds struct {
	Probe   int
	Traffic int
}

// DefaultThresholds trusts one failed real request but needs three failed probes.
var DefaultThresholds = Thresholds{Probe: 3, Traffic: 1}

func (t Thresholds) forSource(source Source) int {
	limit := t.Probe
	if source == SourceTraffic {
		limit = t.Traffic
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// Options configures a Monitor. Zero fields take defaults.
type Options struct {
	Interval   time.Duration
	HealthPath string
	Thresholds Thresholds
	Client     *http.Client
}

// Monitor maintains an EndpointHealth row for every registered endpoint.
type Monitor struct {
	registry   *registry.Registry
	client     *http.Client
	interval   time.Duration
	healthPath string
	thresholds Thresholds
	logger     zerolog.Logger
	now        func() time.Time

	mu     sync.RWMutex
	health map[string]*models.EndpointHealth

	hookMu          sync.RWMutex
	onProbeComplete func(results map[string]bool)

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewMonitor creates a monitor with every endpoint in the unknown state.
func NewMonitor(reg *registry.Registry, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.HealthPath == "" {
		opts.HealthPath = DefaultHealthPath
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds
	}
	if opts.Client == nil {
		// Probes are bounded by the per-endpoint context deadline.
		opts.Client = &http.Client{}
	}

	table := make(map[string]*models.EndpointHealth, reg.Len())
	for _, endpoint := range reg.List() {
		table[endpoint.ID] = &models.EndpointHealth{Status: models.StatusUnknown}
	}

	return &Monitor{
		registry:   reg,
		client:     opts.Client,
		interval:   opts.Interval,
		healthPath: opts.HealthPath,
		thresholds: opts.Thresholds,
		logger:     log.Component("health"),
		now:        time.Now,
		health:     table,
	}
}

// SetOnProbeComplete registers a callback invoked after every ProbeAll with
// the per-endpoint results. It runs outside of any monitor lock.
func (m *Monitor) SetOnProbeComplete(callback func(results map[string]bool)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onProbeComplete = callback
}

// Thresholds returns the configured failure thresholds.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// Start probes every endpoint once and then keeps probing on the configured
// interval until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.loop(loopCtx)

	m.logger.Info().
		Int("endpoint_count", m.registry.Len()).
		Dur("interval", m.interval).
		Msg("Health monitor started")
}

// Stop cancels the background probing and waits for it to exit.
func (m *Monitor) Stop() {
	m.lifecycleMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info().Msg("Health monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.ProbeAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// Probe issues GET {baseURL}{healthPath} bounded by the endpoint timeout.
// Only a 2xx response counts as healthy; every error resolves to false.
func (m *Monitor) Probe(ctx context.Context, endpoint models.Endpoint) bool {
	ok, _ := m.probe(ctx, endpoint)
	return ok
}

func (m *Monitor) probe(ctx context.Context, endpoint models.Endpoint) (bool, string) {
	probeCtx, cancel := context.WithTimeout(ctx, endpoint.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint.BaseURL+m.healthPath, nil)
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug().
			Str("endpoint", endpoint.ID).
			Err(err).
			Msg("Health probe failed")
		return false, err.Error()
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			m.logger.Warn().Err(closeErr).Msg("Failed to close health probe response body")
		}
	}()

	m.logger.Debug().
		Str("endpoint", endpoint.ID).
		Int("status", resp.StatusCode).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("Health probe completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, "health check returned " + resp.Status
	}
	return true, ""
}

// ProbeAll probes every endpoint concurrently, each under its own timeout,
// records the outcomes as probe observations and returns them by endpoint id.
func (m *Monitor) ProbeAll(ctx context.Context) map[string]bool {
	endpoints := m.registry.List()
	ok := make([]bool, len(endpoints))
	reasons := make([]string, len(endpoints))

	var group errgroup.Group
	group.SetLimit(len(endpoints))
	for i, endpoint := range endpoints {
		group.Go(func() error {
			ok[i], reasons[i] = m.probe(ctx, endpoint)
			return nil
		})
	}
	_ = group.Wait()

	results := make(map[string]bool, len(endpoints))
	for i, endpoint := range endpoints {
		results[endpoint.ID] = ok[i]
		m.record(endpoint.ID, ok[i], SourceProbe, reasons[i])
	}

	m.hookMu.RLock()
	hook := m.onProbeComplete
	m.hookMu.RUnlock()
	if hook != nil {
		hook(results)
	}

	return results
}

// RecordResult applies one observation for an endpoint. Success resets the
// failure count and marks it online. Failure increments the count and marks
// it offline once the threshold for source is reached.
func (m *Monitor) RecordResult(endpointID string, success bool, source Source) models.EndpointHealth {
	return m.record(endpointID, success, source, "")
}

// RecordFailure is RecordResult(false) keeping the cause for display.
func (m *Monitor) RecordFailure(endpointID string, source Source, cause error) models.EndpointHealth {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return m.record(endpointID, false, source, reason)
}

func (m *Monitor) record(endpointID string, success bool, source Source, reason string) models.EndpointHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, exists := m.health[endpointID]
	if !exists {
		m.logger.Debug().Str("endpoint", endpointID).Msg("Ignoring result for unregistered endpoint")
		return models.EndpointHealth{Status: models.StatusUnknown}
	}

	status.LastCheckedAt = m.now()

	if success {
		if status.Status == models.StatusOffline {
			m.logger.Info().
				Str("endpoint", endpointID).
				Str("source", source.String()).
				Msg("Endpoint back online")
		}
		status.Status = models.StatusOnline
		status.ConsecutiveFailures = 0
		status.LastError = ""
		return *status
	}

	status.ConsecutiveFailures++
	status.LastError = reason
	if status.ConsecutiveFailures >= m.thresholds.forSource(source) && status.Status != models.StatusOffline {
		m.logger.Warn().
			Str("endpoint", endpointID).
			Str("source", source.String()).
			Int("consecutive_failures", status.ConsecutiveFailures).
			Str("last_error", reason).
			Msg("Endpoint marked offline")
		status.Status = models.StatusOffline
	}
	return *status
}

// Health returns the current health of one endpoint.
func (m *Monitor) Health(endpointID string) (models.EndpointHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.health[endpointID]
	if !exists {
		return models.EndpointHealth{}, false
	}
	return *status, true
}

// Table returns a copy of the health table keyed by endpoint id.
func (m *Monitor) Table() map[string]models.EndpointHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table := make(map[string]models.EndpointHealth, len(m.health))
	for id, status := range m.health {
		table[id] = *status
	}
	return table
}

// Snapshot returns every endpoint with its health in priority order.
func (m *Monitor) Snapshot() []models.EndpointSnapshot {
	table := m.Table()
	endpoints := m.registry.List()

	snapshot := make([]models.EndpointSnapshot, 0, len(endpoints))
	for _, endpoint := range endpoints {
		snapshot = append(snapshot, models.EndpointSnapshot{
			Endpoint: endpoint,
			Health:   table[endpoint.ID],
		})
	}
	return snapshot
}
