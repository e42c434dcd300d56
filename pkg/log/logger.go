package log

import (
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	stackBufSize = 32
	// "goroutine " prefix of the first stack line.
	goroutinePrefixLen = 10
)

// Options controls how the process-wide logger writes events.
type Options struct {
	Out   io.Writer
	Level string
	JSON  bool
}

var (
	Logger   zerolog.Logger
	stackBuf = sync.Pool{New: func() any { return make([]byte, stackBufSize) }}
)

func init() {
	Configure(Options{})
}

// goroutineID returns the numeric id from the first line of the current stack,
// or "unknown" when it cannot be parsed.
func goroutineID() string {
	buf, ok := stackBuf.Get().([]byte)
	if !ok {
		return "unknown"
	}
	defer stackBuf.Put(buf) //nolint:staticcheck // slice header reuse is intended

	n := runtime.Stack(buf, false)
	end := goroutinePrefixLen
	for end < n && buf[end] >= '0' && buf[end] <= '9' {
		end++
	}
	if end == goroutinePrefixLen {
		return "unknown"
	}
	return string(buf[goroutinePrefixLen:end])
}

// Configure rebuilds the package logger. Zero-value options give a colored
// console writer on stderr at info level.
func Configure(opts Options) {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level)); err == nil {
			level = parsed
		}
	}

	Logger = zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger().
		Hook(zerolog.HookFunc(func(e *zerolog.Event, _ zerolog.Level, _ string) {
			e.Str("goid", goroutineID())
		}))

	log.Logger = Logger
}

// Component returns a child logger tagged with the given component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Info starts an info level event.
func Info() *zerolog.Event {
	return Logger.Info()
}

// Error starts an error level event.
func Error() *zerolog.Event {
	return Logger.Error()
}

// Warn starts a warning level event.
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Debug starts a debug level event.
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Fatal starts a fatal event; Msg exits the process.
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// SetDebugMode switches the logger to debug level.
func SetDebugMode() {
	SetLevel(zerolog.DebugLevel)
}

// SetLevel changes the minimum level of the package logger.
func SetLevel(level zerolog.Level) {
	Logger = Logger.Level(level)
	log.Logger = Logger
}
