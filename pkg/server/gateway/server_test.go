package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qrgate/pkg/health"
	"qrgate/pkg/models"
	"qrgate/pkg/notify"
	"qrgate/pkg/registry"
	"qrgate/pkg/router"
	"qrgate/pkg/selection"
	"qrgate/pkg/store"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

// mockAPI is a QR API backend that can be switched off.
type mockAPI struct {
	server *httptest.Server
	down   atomic.Bool

	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
}

func newMockAPI() *mockAPI {
	m := &mockAPI{}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *mockAPI) handle(w http.ResponseWriter, r *http.Request) {
	if m.down.Load() {
		// Drop the connection without a response.
		panic(http.ErrAbortHandler)
	}

	body, _ := io.ReadAll(r.Body)
	m.mu.Lock()
	m.requests = append(m.requests, r)
	m.bodies = append(m.bodies, string(body))
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/api/health":
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	case r.URL.Path == "/api/qr/missing":
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"QR code not found"}`))
	case r.Method == http.MethodPost:
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	default:
		_, _ = w.Write([]byte(`{"qrCodes":[],"total":0}`))
	}
}

func (m *mockAPI) last() (*http.Request, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil, ""
	}
	return m.requests[len(m.requests)-1], m.bodies[len(m.bodies)-1]
}

// GatewayTestSuite tests the gateway HTTP surface
type GatewayTestSuite struct {
	suite.Suite
	primary  *mockAPI
	backup   *mockAPI
	monitor  *health.Monitor
	selector *selection.Selector
	notifier *notify.Notifier
	router   *router.Router
	server   *Server
}

func (s *GatewayTestSuite) SetupTest() {
	s.primary = newMockAPI()
	s.backup = newMockAPI()

	reg, err := registry.New([]models.Endpoint{
		{ID: "primary", Name: "Render (Primary)", BaseURL: s.primary.server.URL + "/api", Timeout: time.Second, Priority: 1},
		{ID: "backup", Name: "Railway (Backup)", BaseURL: s.backup.server.URL + "/api", Timeout: time.Second, Priority: 2},
	})
	s.Require().NoError(err)

	s.monitor = health.NewMonitor(reg, health.Options{Thresholds: health.Thresholds{Probe: 1, Traffic: 1}})
	s.selector, err = selection.Load(context.Background(), store.NewMemory(), "", reg)
	s.Require().NoError(err)
	s.notifier = notify.New()
	s.router = router.New(reg, s.monitor, s.selector, s.notifier, nil)
	s.server = NewServer(s.router, s.monitor, s.selector, s.notifier, Options{ProbeRate: time.Hour})
}

func (s *GatewayTestSuite) TearDownTest() {
	s.primary.server.Close()
	s.backup.server.Close()
}

func (s *GatewayTestSuite) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *GatewayTestSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

// TestRoutes tests route registration
func (s *GatewayTestSuite) TestRoutes() {
	routes := make(map[string]bool)
	for _, route := range s.server.echo.Routes() {
		routes[route.Method+" "+route.Path] = true
	}

	s.True(routes["GET /healthz"])
	s.True(routes["GET /endpoints"])
	s.True(routes["POST /endpoints/probe"])
	s.True(routes["POST /endpoints/:id/switch"])
	s.True(routes["GET /selection"])
	s.True(routes["PUT /selection"])
	s.True(routes["GET /events"])
	s.True(routes["GET /api/*"])
	s.True(routes["DELETE /api/*"])
}

// TestHealthz tests the liveness route
func (s *GatewayTestSuite) TestHealthz() {
	rec := s.do(http.MethodGet, "/healthz", "")
	s.Equal(http.StatusOK, rec.Code)

	var body map[string]any
	s.decode(rec, &body)
	s.Equal("ok", body["status"])
	s.Equal("primary", body["current_endpoint_id"])
	s.Equal(false, body["all_down"])
}

// TestProxyForwards tests path, query and body forwarding
func (s *GatewayTestSuite) TestProxyForwards() {
	rec := s.do(http.MethodGet, "/api/qr/list?page=2&limit=10", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Equal("primary", rec.Header().Get(EndpointHeader))
	s.JSONEq(`{"qrCodes":[],"total":0}`, rec.Body.String())

	req, _ := s.primary.last()
	s.Require().NotNil(req)
	s.Equal("/api/qr/list", req.URL.Path)
	s.Equal("2", req.URL.Query().Get("page"))

	rec = s.do(http.MethodPost, "/api/qr/generate", `{"originalUrl":"https://example.com"}`)
	s.Equal(http.StatusCreated, rec.Code)
	_, body := s.primary.last()
	s.Equal(`{"originalUrl":"https://example.com"}`, body)
	s.Equal(`{"originalUrl":"https://example.com"}`, rec.Body.String())
}

// TestProxyFailover tests transparent failover to the backup
func (s *GatewayTestSuite) TestProxyFailover() {
	events := notify.NewChannel(4)
	s.notifier.Register(events)
	s.primary.down.Store(true)

	rec := s.do(http.MethodPost, "/api/qr/generate", `{"originalUrl":"https://example.com"}`)
	s.Equal(http.StatusCreated, rec.Code)
	s.Equal("backup", rec.Header().Get(EndpointHeader))
	_, body := s.backup.last()
	s.Equal(`{"originalUrl":"https://example.com"}`, body)

	s.Equal("backup", s.router.Current())
	s.Require().Len(events.C, 1)
	event := <-events.C
	s.Equal(models.EventEndpointChanged, event.Type)
	s.Equal("backup", event.EndpointID)
}

// TestProxyAllDown tests the 503 answer when nothing is reachable
func (s *GatewayTestSuite) TestProxyAllDown() {
	s.primary.down.Store(true)
	s.backup.down.Store(true)

	rec := s.do(http.MethodGet, "/api/qr/list", "")
	s.Equal(http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	s.decode(rec, &body)
	s.Contains(body["error"], router.ErrAllBackendsUnavailable.Error())
	s.True(s.router.AllDown())
}

// TestProxyApplicationError tests that API errors are relayed unchanged
func (s *GatewayTestSuite) TestProxyApplicationError() {
	rec := s.do(http.MethodGet, "/api/qr/missing", "")
	s.Equal(http.StatusNotFound, rec.Code)
	s.JSONEq(`{"error":"QR code not found"}`, rec.Body.String())
	s.Equal("primary", rec.Header().Get(EndpointHeader))

	req, _ := s.backup.last()
	s.Nil(req)
}

// TestProxyBodyLimit tests oversized request bodies
func (s *GatewayTestSuite) TestProxyBodyLimit() {
	server := NewServer(s.router, s.monitor, s.selector, s.notifier, Options{MaxBodyBytes: 4})
	req := httptest.NewRequest(http.MethodPost, "/api/qr/generate", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)
}

// TestListEndpoints tests the status route
func (s *GatewayTestSuite) TestListEndpoints() {
	s.monitor.RecordResult("backup", true, health.SourceProbe)

	rec := s.do(http.MethodGet, "/endpoints", "")
	s.Equal(http.StatusOK, rec.Code)

	var snapshot []models.EndpointSnapshot
	s.decode(rec, &snapshot)
	s.Require().Len(snapshot, 2)
	s.Equal("primary", snapshot[0].Endpoint.ID)
	s.Equal("Render (Primary)", snapshot[0].Endpoint.Name)
	s.True(snapshot[0].IsCurrent)
	s.Equal(models.StatusUnknown, snapshot[0].Health.Status)
	s.Equal(models.StatusOnline, snapshot[1].Health.Status)
	s.Equal(time.Second, snapshot[0].Endpoint.Timeout)
	s.Contains(rec.Body.String(), `"timeout_ms":1000`)
}

// TestProbe tests on-demand probing and its rate limit
func (s *GatewayTestSuite) TestProbe() {
	s.primary.down.Store(true)

	rec := s.do(http.MethodPost, "/endpoints/probe", "")
	s.Equal(http.StatusOK, rec.Code)

	var body struct {
		Results           map[string]bool `json:"results"`
		CurrentEndpointID string          `json:"current_endpoint_id"`
	}
	s.decode(rec, &body)
	s.Equal(map[string]bool{"primary": false, "backup": true}, body.Results)
	s.Equal("backup", body.CurrentEndpointID)

	rec = s.do(http.MethodPost, "/endpoints/probe", "")
	s.Equal(http.StatusTooManyRequests, rec.Code)
}

// TestSwitch tests forced switching
func (s *GatewayTestSuite) TestSwitch() {
	rec := s.do(http.MethodPost, "/endpoints/backup/switch", "")
	s.Equal(http.StatusOK, rec.Code)

	var body selectionResponse
	s.decode(rec, &body)
	s.Equal(models.ModeManual, body.Mode)
	s.Equal("backup", body.ManualOverrideID)
	s.Equal("backup", body.CurrentEndpointID)

	rec = s.do(http.MethodPost, "/endpoints/nowhere/switch", "")
	s.Equal(http.StatusNotFound, rec.Code)

	s.primary.down.Store(true)
	rec = s.do(http.MethodPost, "/endpoints/primary/switch", "")
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal("backup", s.selector.State().ManualOverrideID)
}

// TestSelection tests reading and replacing the selection state
func (s *GatewayTestSuite) TestSelection() {
	rec := s.do(http.MethodGet, "/selection", "")
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"mode":"automatic","current_endpoint_id":"primary"}`, rec.Body.String())

	rec = s.do(http.MethodPut, "/selection", `{"mode":"manual","manual_override_id":"backup"}`)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"mode":"manual","manual_override_id":"backup","current_endpoint_id":"backup"}`, rec.Body.String())

	rec = s.do(http.MethodPut, "/selection", `{"mode":"sideways"}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/selection", `{"mode":"manual","manual_override_id":"ghost"}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/selection", `{"mode":"automatic"}`)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(models.SelectionState{Mode: models.ModeAutomatic}, s.selector.State())
	s.JSONEq(`{"mode":"automatic","current_endpoint_id":"primary"}`, rec.Body.String())
}

// TestEventStream tests Server-Sent Events delivery
func (s *GatewayTestSuite) TestEventStream() {
	ts := httptest.NewServer(s.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	s.Require().NoError(err)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal("text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	s.Require().NoError(err)
	s.Equal(": connected\n", line)

	published := s.notifier.EndpointChanged("backup", "primary")

	var frame []string
	for {
		line, err = reader.ReadString('\n')
		s.Require().NoError(err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if len(frame) > 0 {
				break
			}
			continue
		}
		frame = append(frame, line)
	}

	s.Require().Len(frame, 3)
	s.Equal("id: "+published.ID, frame[0])
	s.Equal("event: endpoint-changed", frame[1])

	var event models.Event
	s.Require().NoError(json.Unmarshal([]byte(strings.TrimPrefix(frame[2], "data: ")), &event))
	s.Equal("backup", event.EndpointID)
	s.Equal("primary", event.Previous)
}

// TestDocs tests the API documentation routes
func (s *GatewayTestSuite) TestDocs() {
	rec := s.do(http.MethodGet, "/", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Header().Get("Content-Type"), "text/html")
	s.Contains(rec.Body.String(), `data-spec="/openapi.yaml"`)

	rec = s.do(http.MethodGet, "/openapi.yaml", "")
	s.Equal(http.StatusOK, rec.Code)

	var spec struct {
		Paths map[string]any `yaml:"paths"`
	}
	s.Require().NoError(yaml.Unmarshal(rec.Body.Bytes(), &spec))
	for _, route := range s.server.echo.Routes() {
		if route.Path == "/" || route.Path == specPath || route.Path == "/api/*" {
			continue
		}
		path := strings.ReplaceAll(route.Path, ":id", "{id}")
		s.Contains(spec.Paths, path, "undocumented route %s", route.Path)
	}
}

// TestShutdownWithoutStart tests that shutdown is safe before serving
func (s *GatewayTestSuite) TestShutdownWithoutStart() {
	s.NoError(s.server.Shutdown())
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewayTestSuite))
}
