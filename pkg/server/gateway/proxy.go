package gateway

import (
	"errors"
	"io"
	"net/http"

	"qrgate/pkg/router"

	"github.com/labstack/echo/v4"
)

// EndpointHeader names the endpoint that served a proxied call.
const EndpointHeader = "X-Qrgate-Endpoint"

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
	"Host",
}

// proxy forwards /api/<path> to <endpoint base url>/<path> through the
// router. Responses from a reachable endpoint are relayed verbatim.
func (s *Server) proxy(ctx echo.Context) error {
	req := ctx.Request()

	body, err := io.ReadAll(io.LimitReader(req.Body, s.maxBodyBytes+1))
	if err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "failed to read request body")
	}
	if int64(len(body)) > s.maxBodyBytes {
		return errorJSON(ctx, http.StatusRequestEntityTooLarge, "request body too large")
	}
	if len(body) == 0 {
		body = nil
	}

	path := "/" + ctx.Param("*")
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	resp, err := s.router.Execute(req.Context(), router.Request{
		Method: req.Method,
		Path:   path,
		Header: stripHopByHop(req.Header),
		Body:   body,
	})
	if err != nil {
		return s.proxyError(ctx, err)
	}

	header := ctx.Response().Header()
	for key, values := range stripHopByHop(resp.Header) {
		header[key] = values
	}
	header.Set(EndpointHeader, resp.EndpointID)

	contentType := resp.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return ctx.Blob(resp.StatusCode, contentType, resp.Body)
}

func (s *Server) proxyError(ctx echo.Context, err error) error {
	var transportErr *router.TransportError
	switch {
	case errors.Is(err, router.ErrAllBackendsUnavailable):
		return errorJSON(ctx, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, router.ErrInvalidRequest):
		return errorJSON(ctx, http.StatusBadRequest, err.Error())
	case errors.As(err, &transportErr):
		// The caller went away mid-call; nobody reads this response.
		return errorJSON(ctx, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Proxy call failed")
		return errorJSON(ctx, http.StatusInternalServerError, err.Error())
	}
}

func stripHopByHop(in http.Header) http.Header {
	out := in.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, key := range hopByHopHeaders {
		out.Del(key)
	}
	return out
}
