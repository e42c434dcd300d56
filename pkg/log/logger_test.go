package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

// LoggerTestSuite tests the log package
type LoggerTestSuite struct {
	suite.Suite
	originalLogger zerolog.Logger
	output         *bytes.Buffer
}

// SetupTest routes the package logger into a buffer as JSON
func (s *LoggerTestSuite) SetupTest() {
	s.originalLogger = Logger
	s.output = &bytes.Buffer{}
	Configure(Options{Out: s.output, Level: "debug", JSON: true})
}

// TearDownTest restores the original logger
func (s *LoggerTestSuite) TearDownTest() {
	Logger = s.originalLogger
}

func (s *LoggerTestSuite) lastEvent() map[string]any {
	lines := strings.Split(strings.TrimSpace(s.output.String()), "\n")
	s.Require().NotEmpty(lines)

	var event map[string]any
	s.Require().NoError(json.Unmarshal([]byte(lines[len(lines)-1]), &event))
	return event
}

// TestGoroutineID tests the goroutine ID extraction
func (s *LoggerTestSuite) TestGoroutineID() {
	id := goroutineID()
	s.NotEmpty(id)
	s.NotEqual("unknown", id)
	for _, char := range id {
		s.True(char >= '0' && char <= '9', "goroutine id should be numeric")
	}
	s.Equal(id, goroutineID())
}

// TestLevels tests that each helper writes its level and the goid field
func (s *LoggerTestSuite) TestLevels() {
	cases := []struct {
		event func() *zerolog.Event
		level string
	}{
		{Debug, "debug"},
		{Info, "info"},
		{Warn, "warn"},
		{Error, "error"},
	}

	for _, tc := range cases {
		tc.event().Msg("level check")
		event := s.lastEvent()
		s.Equal(tc.level, event["level"])
		s.Equal("level check", event["message"])
		s.NotEmpty(event["goid"])
	}
}

// TestFields tests structured fields
func (s *LoggerTestSuite) TestFields() {
	Info().Str("endpoint", "railway").Int("consecutive_failures", 2).Msg("probe failed")

	event := s.lastEvent()
	s.Equal("railway", event["endpoint"])
	s.InDelta(2, event["consecutive_failures"], 0)
}

// TestComponent tests component sub-loggers
func (s *LoggerTestSuite) TestComponent() {
	logger := Component("router")
	logger.Warn().Msg("failover")

	event := s.lastEvent()
	s.Equal("router", event["component"])
	s.Equal("warn", event["level"])
}

// TestSetLevel tests that events below the level are dropped
func (s *LoggerTestSuite) TestSetLevel() {
	SetLevel(zerolog.WarnLevel)
	Info().Msg("hidden")
	Debug().Msg("hidden too")
	s.Empty(s.output.String())

	SetDebugMode()
	Debug().Msg("visible")
	s.Contains(s.output.String(), "visible")
}

// TestConfigureInvalidLevel tests the fallback to info level
func (s *LoggerTestSuite) TestConfigureInvalidLevel() {
	Configure(Options{Out: s.output, Level: "chatty", JSON: true})
	s.Equal(zerolog.InfoLevel, Logger.GetLevel())
}

// TestConsoleOutput tests the default console writer
func (s *LoggerTestSuite) TestConsoleOutput() {
	Configure(Options{Out: s.output})
	Info().Msg("console message")
	s.Contains(s.output.String(), "console message")
	s.Contains(s.output.String(), "goid=")
}

// TestConcurrentLogging tests that logging is safe from many goroutines
func (s *LoggerTestSuite) TestConcurrentLogging() {
	var (
		mu  sync.Mutex
		buf bytes.Buffer
		wg  sync.WaitGroup
	)
	Configure(Options{Out: &lockedWriter{mu: &mu, buf: &buf}, JSON: true})

	for i := range 10 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			Info().Int("worker", id).Msg("concurrent")
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	s.Len(strings.Split(strings.TrimSpace(buf.String()), "\n"), 10)
}

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

// TestSuite runs the logger test suite
func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
