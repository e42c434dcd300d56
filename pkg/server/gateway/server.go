// Package gateway serves the failover router over HTTP: a reverse proxy for
// the QR API plus endpoint status, selection and event routes.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrgate/pkg/health"
	"qrgate/pkg/log"
	"qrgate/pkg/notify"
	"qrgate/pkg/router"
	"qrgate/pkg/selection"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultProbeRate       = 5 * time.Second
	defaultMaxBodyBytes    = 10 << 20
	eventBufferSize        = 16
	heartbeatInterval      = 15 * time.Second
)

// Options tunes the HTTP surface. Zero fields take defaults.
type Options struct {
	ShutdownTimeout time.Duration
	// ProbeRate is the minimum spacing between on-demand probe rounds.
	ProbeRate    time.Duration
	MaxBodyBytes int64
}

// Server is the gateway HTTP server. It owns the echo instance and drives the
// health monitor's lifecycle.
type Server struct {
	router          *router.Router
	monitor         *health.Monitor
	selector        *selection.Selector
	notifier        *notify.Notifier
	shutdownTimeout time.Duration
	maxBodyBytes    int64
	probeLimiter    *rate.Limiter
	heartbeat       time.Duration
	echo            *echo.Echo
	logger          zerolog.Logger
}

// NewServer creates a gateway over an already wired router and registers
// every route.
func NewServer(r *router.Router, monitor *health.Monitor, selector *selection.Selector, notifier *notify.Notifier, opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.ProbeRate <= 0 {
		opts.ProbeRate = defaultProbeRate
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	s := &Server{
		router:          r,
		monitor:         monitor,
		selector:        selector,
		notifier:        notifier,
		shutdownTimeout: opts.ShutdownTimeout,
		maxBodyBytes:    opts.MaxBodyBytes,
		probeLimiter:    rate.NewLimiter(rate.Every(opts.ProbeRate), 1),
		heartbeat:       heartbeatInterval,
		echo:            echo.New(),
		logger:          log.Component("gateway"),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start runs the health monitor and the HTTP server, then blocks until
// SIGINT or SIGTERM and shuts both down.
func (s *Server) Start(addr string) error {
	s.monitor.Start(context.Background())

	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting gateway")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	return s.Shutdown()
}

// Shutdown stops accepting requests, drains in-flight ones and stops the
// health monitor.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	err := s.echo.Shutdown(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Server shutdown failed")
	}
	s.monitor.Stop()

	s.logger.Info().Msg("Shutdown complete")
	return err
}

func (s *Server) setupRoutes() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Debug()
			if v.Error != nil {
				event = s.logger.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Int64("latency_ms", v.Latency.Milliseconds()).
				Msg("Request")
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())

	s.echo.GET("/", s.serveDocs)
	s.echo.GET(specPath, s.serveSpec)
	s.echo.GET("/healthz", s.healthz)
	s.echo.GET("/endpoints", s.listEndpoints)
	s.echo.POST("/endpoints/probe", s.probeEndpoints)
	s.echo.POST("/endpoints/:id/switch", s.switchEndpoint)
	s.echo.GET("/selection", s.getSelection)
	s.echo.PUT("/selection", s.putSelection)
	s.echo.GET("/events", s.streamEvents)
	s.echo.Any("/api/*", s.proxy)
}

func errorJSON(ctx echo.Context, status int, message string) error {
	return ctx.JSON(status, map[string]string{"error": message})
}
