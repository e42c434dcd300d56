package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"os"
	"strings"

	"qrgate/pkg/config"
	"qrgate/pkg/health"
	"qrgate/pkg/log"
	"qrgate/pkg/models"
	"qrgate/pkg/notify"
	"qrgate/pkg/router"
	"qrgate/pkg/selection"
	"qrgate/pkg/server/gateway"
	"qrgate/pkg/store"
)

//go:embed VERSION
var Version string

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	endpoints := flag.String("endpoints", "", "Comma-separated endpoint base URLs in priority order (used when -config is not set)")
	addr := flag.String("addr", "", "Gateway listen address (overrides gateway.addr)")
	dbPath := flag.String("db", "", "SQLite database path for the persisted selection (overrides state.path)")
	probeInterval := flag.Duration("probe-interval", 0, "Interval between health probe rounds (overrides health.interval)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	jsonLogs := flag.Bool("json-logs", false, "Write logs as JSON instead of console output")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Println(strings.TrimSpace(Version))
		os.Exit(0)
	}

	log.Configure(log.Options{JSON: *jsonLogs})
	if *debug {
		log.SetDebugMode()
		log.Debug().Msg("Debug mode enabled")
	}

	cfg, err := loadConfig(*configPath, *endpoints)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *addr != "" {
		cfg.Gateway.Addr = *addr
	}
	if *dbPath != "" {
		cfg.State.Path = *dbPath
	}
	if *probeInterval > 0 {
		cfg.Health.Interval = *probeInterval
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Gateway failed")
	}
	os.Exit(0)
}

func loadConfig(path, endpointList string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if endpointList == "" {
		return nil, fmt.Errorf("%w: either -config or -endpoints must be set", config.ErrInvalidConfig)
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

func run(cfg *config.Config) error {
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}

	kv, closeKV, err := openStore(cfg.State.Path)
	if err != nil {
		return err
	}
	defer closeKV()

	selector, err := selection.Load(context.Background(), kv, cfg.State.Key, reg)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(reg, cfg.HealthOptions())
	notifier := notify.New()
	notifier.OnEndpointChanged(func(event models.Event) {
		log.Info().
			Str("endpoint", event.EndpointID).
			Str("previous", event.Previous).
			Msg("Current endpoint changed")
	})
	notifier.OnAllDown(func(models.Event) {
		log.Error().Msg("All backends are down")
	})

	r := router.New(reg, monitor, selector, notifier, nil)

	log.Info().
		Str("version", strings.TrimSpace(Version)).
		Int("endpoint_count", reg.Len()).
		Str("primary", reg.Primary().ID).
		Str("mode", string(selector.State().Mode)).
		Dur("probe_interval", cfg.Health.Interval).
		Str("state_path", cfg.State.Path).
		Msg("Configured endpoints")

	srv := gateway.NewServer(r, monitor, selector, notifier, gateway.Options{
		ShutdownTimeout: cfg.Gateway.ShutdownTimeout,
		ProbeRate:       cfg.Gateway.ProbeRate,
	})
	return srv.Start(cfg.Gateway.Addr)
}

// openStore returns the SQLite store for path, or an in-memory store when
// path is empty.
func openStore(path string) (store.KV, func(), error) {
	if path == "" {
		log.Warn().Msg("No state path configured, selection will not survive restarts")
		return store.NewMemory(), func() {}, nil
	}

	db, err := store.NewSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	return db, func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close state database")
		}
	}, nil
}
