package router

import (
	"context"
	"errors"
	"net"
	"net/http"

	"qrgate/pkg/log"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// Doer issues a single HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

type retryableDoer struct {
	client *retryablehttp.Client
}

// NewTransport returns the default Doer. It makes exactly one attempt per
// request: failover across endpoints replaces same-endpoint retries, and any
// HTTP response, including 4xx and 5xx, is handed back untouched.
func NewTransport() Doer {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = leveledLogger{logger: log.Component("transport")}
	client.CheckRetry = transportOnlyRetryPolicy
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &retryableDoer{client: client}
}

func (d *retryableDoer) Do(req *http.Request) (*http.Response, error) {
	wrapped, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}
	return d.client.Do(wrapped)
}

// transportOnlyRetryPolicy flags only connection and timeout errors as
// retryable; responses are always forwarded as-is.
func transportOnlyRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil {
		return false, nil
	}
	return err != nil, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// leveledLogger routes retryablehttp logging into zerolog.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
