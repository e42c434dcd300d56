package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"qrgate/pkg/config"
	"qrgate/pkg/health"
	"qrgate/pkg/log"
	"qrgate/pkg/models"
	"qrgate/pkg/notify"
	"qrgate/pkg/qrapi"
	"qrgate/pkg/router"
	"qrgate/pkg/selection"
	"qrgate/pkg/store"

	"golang.org/x/sync/errgroup"
)

const (
	defaultEndpoints      = "http://127.0.0.1:5000/api"
	defaultTargetURL      = "https://example.com/qr-smoke"
	defaultMultiPassCount = 5
	defaultParallelPasses = 5
	defaultRunTimeout     = 2 * time.Minute

	separatorLineLength  = 80
	microsecondsToMillis = 1000.0
)

type smokeConfig struct {
	targetURL      string
	multiPassCount int
	parallelPasses int
	runTimeout     time.Duration
	showSummary    bool
}

type tester struct {
	cfg     smokeConfig
	client  *qrapi.Client
	router  *router.Router
	metrics *metricsCollector
}

type operationMetrics struct {
	Name       string
	EndpointID string
	Duration   time.Duration
	Error      error
}

type stepMetrics struct {
	Name       string
	StartTime  time.Time
	Duration   time.Duration
	Operations []operationMetrics
	Success    bool
	Error      error
}

type metricsCollector struct {
	mu          sync.Mutex
	steps       []stepMetrics
	currentStep *stepMetrics
	showSummary bool
	totals      map[string]int
	events      []models.Event
}

// endpointRecorder tracks which endpoint served each call.
type endpointRecorder struct {
	exec qrapi.Executor
	mu   sync.Mutex
	last string
}

func (e *endpointRecorder) Execute(ctx context.Context, req router.Request) (*router.Response, error) {
	resp, err := e.exec.Execute(ctx, req)
	if resp != nil {
		e.mu.Lock()
		e.last = resp.EndpointID
		e.mu.Unlock()
	}
	return resp, err
}

func (e *endpointRecorder) lastEndpoint() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func main() {
	configPath := flag.String("config", "", "Path to the gateway YAML configuration (endpoints and health settings)")
	endpoints := flag.String("endpoints", defaultEndpoints, "Comma-separated endpoint base URLs in priority order (used when -config is not set)")
	target := flag.String("url", defaultTargetURL, "URL to encode in generated QR codes")
	passes := flag.Int("passes", defaultMultiPassCount, "Number of sequential passes")
	parallel := flag.Int("parallel", defaultParallelPasses, "Number of concurrent passes")
	timeout := flag.Duration("timeout", defaultRunTimeout, "Overall run timeout")
	debug := flag.Bool("debug", false, "Enable debug logging")
	noSummary := flag.Bool("no-summary", false, "Disable metrics summary")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nSteps:\n")
		fmt.Fprintf(os.Stderr, "  Step 1: Connection test\n")
		fmt.Fprintf(os.Stderr, "  Step 2: Single pass (generate, get, stats, list, delete)\n")
		fmt.Fprintf(os.Stderr, "  Step 3: Multiple sequential passes\n")
		fmt.Fprintf(os.Stderr, "  Step 4: Passes in parallel\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *debug {
		log.SetDebugMode()
	}

	cfg, err := loadConfig(*configPath, *endpoints)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qr-smoke: %v\n", err)
		os.Exit(1)
	}

	smoke := smokeConfig{
		targetURL:      *target,
		multiPassCount: max(*passes, 1),
		parallelPasses: max(*parallel, 1),
		runTimeout:     *timeout,
		showSummary:    !*noSummary,
	}

	t, err := newTester(cfg, smoke)
	if err != nil {
		fmt.Fprintf(os.Stderr, "qr-smoke: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), smoke.runTimeout)
	defer cancel()

	runErr := t.run(ctx)
	t.metrics.printSummary()
	t.printEndpointStatus()

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "qr-smoke failed: %v\n", runErr)
		os.Exit(1)
	}
	fmt.Println("\n✅ All smoke steps completed successfully")
}

func loadConfig(path, endpointList string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	cfg := config.Default()
	for i, raw := range strings.Split(endpointList, ",") {
		cfg.Endpoints = append(cfg.Endpoints, models.Endpoint{
			ID:       fmt.Sprintf("endpoint-%d", i+1),
			BaseURL:  strings.TrimSpace(raw),
			Priority: i + 1,
		})
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newTester wires a private router over the configured endpoints. Selection
// state lives in memory so a smoke run never touches the gateway's database.
func newTester(cfg *config.Config, smoke smokeConfig) (*tester, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	selector, err := selection.Load(context.Background(), store.NewMemory(), cfg.State.Key, reg)
	if err != nil {
		return nil, err
	}

	metrics := &metricsCollector{showSummary: smoke.showSummary, totals: make(map[string]int)}
	notifier := notify.New()
	notifier.Register(notify.Funcs{
		EndpointChanged: metrics.recordEvent,
		AllDown:         metrics.recordEvent,
	})

	monitor := health.NewMonitor(reg, cfg.HealthOptions())
	r := router.New(reg, monitor, selector, notifier, nil)

	return &tester{
		cfg:     smoke,
		client:  qrapi.New(r),
		router:  r,
		metrics: metrics,
	}, nil
}

type testStep struct {
	name    string
	runFunc func(context.Context) error
}

func (t *tester) run(ctx context.Context) error {
	steps := []testStep{
		{"Step 1: Connection test", t.runConnectionStep},
		{"Step 2: Single pass", t.runSinglePassStep},
		{fmt.Sprintf("Step 3: %d sequential passes", t.cfg.multiPassCount), t.runMultiPassStep},
		{fmt.Sprintf("Step 4: %d parallel passes", t.cfg.parallelPasses), t.runParallelStep},
	}

	for _, step := range steps {
		fmt.Printf("\n%s\n", step.name)
		t.metrics.startStep(step.name)
		err := step.runFunc(ctx)
		t.metrics.endStep(err)
		if err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		fmt.Printf("✓ %s completed successfully\n", step.name)
	}
	return nil
}

func (t *tester) runConnectionStep(ctx context.Context) error {
	start := time.Now()
	result, err := t.client.TestConnection(ctx)
	endpointID := ""
	if result != nil {
		endpointID = result.EndpointID
	}
	t.metrics.recordOperation("health", endpointID, time.Since(start), err)
	if err != nil {
		return err
	}

	fmt.Printf("  Connected to %s (status %s, %s)\n", result.EndpointID, result.Health.Status, result.Latency.Round(time.Millisecond))
	return nil
}

func (t *tester) runSinglePassStep(ctx context.Context) error {
	return t.performPass(ctx, 0)
}

func (t *tester) runMultiPassStep(ctx context.Context) error {
	for i := range t.cfg.multiPassCount {
		if err := t.performPass(ctx, i); err != nil {
			return fmt.Errorf("pass %d: %w", i+1, err)
		}
	}
	return nil
}

func (t *tester) runParallelStep(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := range t.cfg.parallelPasses {
		group.Go(func() error {
			if err := t.performPass(groupCtx, i); err != nil {
				return fmt.Errorf("parallel pass %d: %w", i+1, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// performPass runs generate, get, stats, list and delete for one QR code.
// The code is deleted even when a later step fails.
func (t *tester) performPass(ctx context.Context, index int) error {
	recorder := &endpointRecorder{exec: t.router}
	client := qrapi.New(recorder)

	var code *models.QRCode
	err := t.timed("generate", recorder, func() error {
		var genErr error
		code, genErr = client.Generate(ctx, qrapi.GenerateRequest{
			OriginalURL: fmt.Sprintf("%s?pass=%d&at=%d", t.cfg.targetURL, index, time.Now().UnixNano()),
			CreatedBy:   "qr-smoke",
		})
		return genErr
	})
	if err != nil {
		return err
	}

	id := code.ShortID
	if id == "" {
		id = code.ID
	}
	if id == "" {
		return errors.New("generate returned no id")
	}

	defer func() {
		deleteErr := t.timed("delete", recorder, func() error {
			return client.Delete(context.WithoutCancel(ctx), id)
		})
		if deleteErr != nil {
			fmt.Fprintf(os.Stderr, "failed to cleanup QR code %s: %v\n", id, deleteErr)
		}
	}()

	err = t.timed("get", recorder, func() error {
		fetched, getErr := client.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if fetched.OriginalURL != code.OriginalURL {
			return fmt.Errorf("get returned url %q, want %q", fetched.OriginalURL, code.OriginalURL)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := t.timed("stats", recorder, func() error {
		_, statsErr := client.Stats(ctx, id)
		return statsErr
	}); err != nil {
		return err
	}

	return t.timed("list", recorder, func() error {
		_, listErr := client.List(ctx, qrapi.ListOptions{Limit: 10})
		return listErr
	})
}

func (t *tester) timed(name string, recorder *endpointRecorder, fn func() error) error {
	start := time.Now()
	err := fn()
	t.metrics.recordOperation(name, recorder.lastEndpoint(), time.Since(start), err)
	return err
}

func (t *tester) printEndpointStatus() {
	fmt.Printf("\nEndpoint Status:\n")
	for _, snapshot := range t.router.Status() {
		marker := " "
		if snapshot.IsCurrent {
			marker = "*"
		}
		fmt.Printf("  %s %-20s %-8s failures=%d %s\n",
			marker,
			snapshot.Endpoint.DisplayName(),
			snapshot.Health.Status,
			snapshot.Health.ConsecutiveFailures,
			snapshot.Endpoint.BaseURL)
	}
}

func (m *metricsCollector) startStep(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentStep = &stepMetrics{Name: name, StartTime: time.Now()}
}

func (m *metricsCollector) endStep(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentStep == nil {
		return
	}
	m.currentStep.Duration = time.Since(m.currentStep.StartTime)
	m.currentStep.Success = err == nil
	m.currentStep.Error = err
	m.steps = append(m.steps, *m.currentStep)
	m.currentStep = nil
}

func (m *metricsCollector) recordOperation(name, endpointID string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.currentStep != nil {
		m.currentStep.Operations = append(m.currentStep.Operations, operationMetrics{
			Name:       name,
			EndpointID: endpointID,
			Duration:   duration,
			Error:      err,
		})
	}
	m.totals[name]++
}

func (m *metricsCollector) recordEvent(event models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *metricsCollector) printSummary() {
	if !m.showSummary {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fmt.Println("\n" + strings.Repeat("=", separatorLineLength))
	fmt.Println("METRICS SUMMARY")
	fmt.Println(strings.Repeat("=", separatorLineLength))

	fmt.Printf("\nOverall Statistics:\n")
	for _, name := range []string{"health", "generate", "get", "stats", "list", "delete"} {
		fmt.Printf("  Total %-9s %d\n", name+":", m.totals[name])
	}

	fmt.Printf("\nStep-by-Step Breakdown:\n")
	var totalDuration time.Duration
	for _, step := range m.steps {
		totalDuration += step.Duration
		status := "✓"
		if !step.Success {
			status = "✗"
		}
		fmt.Printf("\n  %s %s (%.2fs)\n", status, step.Name, step.Duration.Seconds())

		counts := make(map[string]int)
		durations := make(map[string]time.Duration)
		servedBy := make(map[string]int)
		for _, op := range step.Operations {
			counts[op.Name]++
			durations[op.Name] += op.Duration
			if op.EndpointID != "" {
				servedBy[op.EndpointID]++
			}
		}
		for name, count := range counts {
			avg := durations[name] / time.Duration(count)
			fmt.Printf("    - %s: %d operations, avg %.3fms\n", name, count, float64(avg.Microseconds())/microsecondsToMillis)
		}
		for endpointID, count := range servedBy {
			fmt.Printf("    - served by %s: %d\n", endpointID, count)
		}
		if step.Error != nil {
			fmt.Printf("    Error: %v\n", step.Error)
		}
	}

	if len(m.events) > 0 {
		fmt.Printf("\nRouter Events:\n")
		for _, event := range m.events {
			fmt.Printf("  %s %s %s\n", event.At.Format(time.TimeOnly), event.Type, event.EndpointID)
		}
	}

	fmt.Printf("\nTiming Summary:\n")
	fmt.Printf("  Total execution time: %.2fs\n", totalDuration.Seconds())
	fmt.Println(strings.Repeat("=", separatorLineLength))
}
