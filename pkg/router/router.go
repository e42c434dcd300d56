// Package router executes logical API calls against the selected endpoint and
// fails over to alternates when an endpoint cannot be reached.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"qrgate/pkg/health"
	"qrgate/pkg/log"
	"qrgate/pkg/models"
	"qrgate/pkg/notify"
	"qrgate/pkg/registry"
	"qrgate/pkg/selection"

	"github.com/rs/zerolog"
)

// DefaultMaxResponseBytes caps how much of a response body is buffered.
const DefaultMaxResponseBytes = 32 << 20

// Request is one logical call. Path is appended to the endpoint base URL and
// may carry a query string.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Response is the buffered reply of the endpoint that served the call.
type Response struct {
	EndpointID string
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
	Latency    time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Err returns an *ApplicationError for non-2xx responses and nil otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &ApplicationError{EndpointID: r.EndpointID, StatusCode: r.StatusCode, Body: r.Body}
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Router owns the current endpoint and the all-down episode state. Create one
// per process and share it.
type Router struct {
	registry         *registry.Registry
	monitor          *health.Monitor
	selector         *selection.Selector
	notifier         *notify.Notifier
	transport        Doer
	maxResponseBytes atomic.Int64
	logger           zerolog.Logger

	mu      sync.Mutex
	current string
	// pinned is set while current was chosen by a manual override.
	pinned  bool
	allDown bool
}

// New wires a router and subscribes it to the monitor's probe results so
// that automatic selection follows probes between requests. A nil transport
// uses NewTransport.
func New(reg *registry.Registry, monitor *health.Monitor, selector *selection.Selector, notifier *notify.Notifier, transport Doer) *Router {
	if transport == nil {
		transport = NewTransport()
	}

	r := &Router{
		registry:  reg,
		monitor:   monitor,
		selector:  selector,
		notifier:  notifier,
		transport: transport,
		logger:    log.Component("router"),
	}
	r.maxResponseBytes.Store(DefaultMaxResponseBytes)
	initial := selector.Select(monitor.Table())
	r.current = initial.EndpointID
	r.pinned = initial.Pinned

	monitor.SetOnProbeComplete(func(map[string]bool) {
		r.Refresh()
	})

	return r
}

// SetMaxResponseBytes changes the response buffering limit. It is safe to
// call while requests are in flight.
func (r *Router) SetMaxResponseBytes(limit int64) {
	if limit > 0 {
		r.maxResponseBytes.Store(limit)
	}
}

// Current returns the id of the endpoint currently in use.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// AllDown reports whether the router is inside an all-backends-down episode.
func (r *Router) AllDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allDown
}

// Status returns every endpoint with its health and current flag, in
// priority order.
func (r *Router) Status() []models.EndpointSnapshot {
	snapshot := r.monitor.Snapshot()
	current := r.Current()
	for i := range snapshot {
		snapshot[i].IsCurrent = snapshot[i].Endpoint.ID == current
	}
	return snapshot
}

// Execute sends req to the selected endpoint. Transport failures fail over to
// the remaining endpoints in priority order, trying those already offline
// last. A response from a reachable endpoint is returned as-is whatever its
// status; only unreachability triggers failover.
func (r *Router) Execute(ctx context.Context, req Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	decision := r.selector.Select(r.monitor.Table())
	primary, err := r.registry.Find(decision.EndpointID)
	if err != nil {
		return nil, err
	}
	if decision.NoneOnline {
		r.logger.Debug().
			Str("endpoint", primary.ID).
			Msg("No endpoint is online, trying the preferred one")
	}

	candidates := make([]models.Endpoint, 0, r.registry.Len())
	candidates = append(candidates, primary)
	for _, endpoint := range r.registry.List() {
		if endpoint.ID != primary.ID {
			candidates = append(candidates, endpoint)
		}
	}

	var (
		failures []error
		skipped  []models.Endpoint
		attempts int
	)
	try := func(endpoint models.Endpoint) (*Response, bool, error) {
		attempts++
		resp, err := r.attempt(ctx, endpoint, req)
		if err == nil {
			resp.Attempts = attempts
			r.observe(endpoint, resp, decision)
			return resp, true, nil
		}

		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			return nil, true, err
		}

		r.monitor.RecordFailure(endpoint.ID, health.SourceTraffic, err)
		failures = append(failures, err)
		if ctx.Err() != nil {
			return nil, true, err
		}

		r.logger.Warn().
			Str("endpoint", endpoint.ID).
			Str("method", req.Method).
			Str("path", req.Path).
			Bool("timeout", transportErr.Timeout).
			Err(transportErr.Err).
			Msg("Endpoint unreachable, failing over")
		return nil, false, nil
	}

	for i, endpoint := range candidates {
		if i > 0 {
			if status, _ := r.monitor.Health(endpoint.ID); status.Status == models.StatusOffline {
				r.logger.Debug().Str("endpoint", endpoint.ID).Msg("Deferring offline endpoint")
				skipped = append(skipped, endpoint)
				continue
			}
		}
		if resp, done, err := try(endpoint); done {
			return resp, err
		}
	}

	// Offline marks may predate this call. Every endpoint gets one attempt
	// before the call is declared unavailable.
	for _, endpoint := range skipped {
		if resp, done, err := try(endpoint); done {
			return resp, err
		}
	}

	r.enterAllDown()
	return nil, fmt.Errorf("%w after %d attempt(s): %w", ErrAllBackendsUnavailable, attempts, errors.Join(failures...))
}

// observe feeds a response from a reachable endpoint back into health and
// current-endpoint state. 5xx counts against the endpoint but is not failed
// over; anything else proves it healthy.
func (r *Router) observe(endpoint models.Endpoint, resp *Response, decision selection.Decision) {
	if resp.StatusCode >= http.StatusInternalServerError {
		r.monitor.RecordFailure(endpoint.ID, health.SourceTraffic, resp.Err())
		return
	}

	r.monitor.RecordResult(endpoint.ID, true, health.SourceTraffic)

	// A pinned endpoint stays current while alternates serve failover traffic.
	if decision.Pinned && endpoint.ID != decision.EndpointID {
		r.leaveAllDown()
		return
	}
	r.promote(endpoint.ID, decision.Pinned)
}

func (r *Router) attempt(ctx context.Context, endpoint models.Endpoint, req Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, endpoint.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, endpoint.BaseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}

	start := time.Now()
	resp, err := r.transport.Do(httpReq)
	if err != nil {
		return nil, &TransportError{EndpointID: endpoint.ID, Err: err, Timeout: isTimeout(err)}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			r.logger.Warn().Err(closeErr).Str("endpoint", endpoint.ID).Msg("Failed to close response body")
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxResponseBytes.Load()))
	if err != nil {
		return nil, &TransportError{EndpointID: endpoint.ID, Err: err, Timeout: isTimeout(err)}
	}

	latency := time.Since(start)
	r.logger.Debug().
		Str("endpoint", endpoint.ID).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Int64("latency_ms", latency.Milliseconds()).
		Msg("Request completed")

	return &Response{
		EndpointID: endpoint.ID,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Latency:    latency,
	}, nil
}

// promote makes endpointID current, closes any all-down episode and fires
// endpoint-changed when the current endpoint actually changed.
func (r *Router) promote(endpointID string, pinned bool) {
	r.mu.Lock()
	previous := r.current
	r.current = endpointID
	r.pinned = pinned
	recovered := r.allDown
	r.allDown = false
	r.mu.Unlock()

	if recovered {
		r.logger.Info().Str("endpoint", endpointID).Msg("Backends reachable again")
	}
	if previous == endpointID {
		return
	}

	r.logger.Info().
		Str("endpoint", endpointID).
		Str("previous", previous).
		Msg("Switched endpoint")
	r.notifier.EndpointChanged(endpointID, previous)
}

func (r *Router) leaveAllDown() {
	r.mu.Lock()
	recovered := r.allDown
	r.allDown = false
	r.mu.Unlock()

	if recovered {
		r.logger.Info().Msg("Backends reachable again")
	}
}

// enterAllDown fires all-backends-down once per episode. The episode ends
// with the next successful call or probe-driven promotion.
func (r *Router) enterAllDown() {
	r.mu.Lock()
	first := !r.allDown
	r.allDown = true
	r.mu.Unlock()

	if !first {
		return
	}
	r.logger.Error().Int("endpoint_count", r.registry.Len()).Msg("All backends are unavailable")
	r.notifier.AllDown()
}

// Refresh re-evaluates selection against the latest health table. It runs
// after every probe round and selection change: a newly preferred online or
// pinned endpoint is promoted and an all-offline table opens an all-down
// episode. With nothing online, automatic selection only replaces a current
// endpoint that was held by a released pin.
func (r *Router) Refresh() {
	table := r.monitor.Table()
	decision := r.selector.Select(table)

	if decision.NoneOnline {
		if selection.AllOffline(r.registry.List(), table) {
			r.enterAllDown()
			return
		}
		if !decision.Pinned && !r.currentPinned() {
			return
		}
	}
	r.promote(decision.EndpointID, decision.Pinned)
}

func (r *Router) currentPinned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pinned
}

// SwitchTo probes endpointID and, when it answers, pins it as the manual
// override and makes it current. It returns false when the probe fails.
func (r *Router) SwitchTo(ctx context.Context, endpointID string) (bool, error) {
	endpoint, err := r.registry.Find(endpointID)
	if err != nil {
		return false, err
	}

	healthy := r.monitor.Probe(ctx, endpoint)
	r.monitor.RecordResult(endpointID, healthy, health.SourceTraffic)
	if !healthy {
		r.logger.Warn().Str("endpoint", endpointID).Msg("Refusing to switch to unhealthy endpoint")
		return false, nil
	}

	if err := r.selector.Pin(ctx, endpointID); err != nil {
		return false, err
	}
	r.promote(endpointID, true)
	return true, nil
}

func (req *Request) validate() error {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if !strings.HasPrefix(req.Path, "/") {
		return fmt.Errorf("%w: path %q must start with /", ErrInvalidRequest, req.Path)
	}
	return nil
}
