// Package qrapi is a typed client for the QR code API. Every call goes
// through the failover router.
package qrapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"qrgate/pkg/log"
	"qrgate/pkg/models"
	"qrgate/pkg/router"

	"github.com/rs/zerolog"
)

const (
	DefaultListLimit = 100
	DefaultSortBy    = "createdAt"
	DefaultOrder     = "desc"
	DefaultCreatedBy = "anonymous"
)

// ErrInvalidArgument is returned before any request is sent.
var ErrInvalidArgument = errors.New("invalid argument")

// APIError is a non-2xx answer from the QR API.
type APIError struct {
	EndpointID string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qr api %d (endpoint %s): %s", e.StatusCode, e.EndpointID, e.Message)
}

// NotFound reports a 404.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Executor runs one logical call. *router.Router satisfies it.
type Executor interface {
	Execute(ctx context.Context, req router.Request) (*router.Response, error)
}

type Client struct {
	exec   Executor
	logger zerolog.Logger
}

func New(exec Executor) *Client {
	return &Client{exec: exec, logger: log.Component("qrapi")}
}

type GenerateRequest struct {
	OriginalURL   string                  `json:"originalUrl"`
	CreatedBy     string                  `json:"createdBy"`
	Customization *models.QRCustomization `json:"customization,omitempty"`
	Logo          string                  `json:"logo,omitempty"`
}

// ListOptions pages through QR codes. Zero fields take the API defaults.
type ListOptions struct {
	Limit  int
	Page   int
	SortBy string
	Order  string
}

func (o ListOptions) query() url.Values {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Page <= 0 {
		o.Page = 1
	}
	if o.SortBy == "" {
		o.SortBy = DefaultSortBy
	}
	if o.Order == "" {
		o.Order = DefaultOrder
	}
	return url.Values{
		"limit":  []string{strconv.Itoa(o.Limit)},
		"page":   []string{strconv.Itoa(o.Page)},
		"sortBy": []string{o.SortBy},
		"order":  []string{o.Order},
	}
}

// ConnectionResult describes which endpoint answered a connection test.
type ConnectionResult struct {
	EndpointID string
	Latency    time.Duration
	Health     models.APIHealth
}

// Generate creates a QR code for req.OriginalURL.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*models.QRCode, error) {
	if strings.TrimSpace(req.OriginalURL) == "" {
		return nil, fmt.Errorf("%w: original url is required", ErrInvalidArgument)
	}
	if req.CreatedBy == "" {
		req.CreatedBy = DefaultCreatedBy
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}

	var code models.QRCode
	if err := c.do(ctx, http.MethodPost, "/qr/generate", body, &code); err != nil {
		return nil, err
	}
	return &code, nil
}

// List returns one page of QR codes.
func (c *Client) List(ctx context.Context, opts ListOptions) (*models.QRList, error) {
	var list models.QRList
	if err := c.do(ctx, http.MethodGet, "/qr/list?"+opts.query().Encode(), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Get fetches one QR code.
func (c *Client) Get(ctx context.Context, id string) (*models.QRCode, error) {
	path, err := idPath("/qr/", id)
	if err != nil {
		return nil, err
	}
	var code models.QRCode
	if err := c.do(ctx, http.MethodGet, path, nil, &code); err != nil {
		return nil, err
	}
	return &code, nil
}

// Delete removes one QR code.
func (c *Client) Delete(ctx context.Context, id string) error {
	path, err := idPath("/qr/", id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Stats returns scan statistics for one QR code.
func (c *Client) Stats(ctx context.Context, id string) (*models.QRStats, error) {
	path, err := idPath("/qr/stats/", id)
	if err != nil {
		return nil, err
	}
	var stats models.QRStats
	if err := c.do(ctx, http.MethodGet, path, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Health calls the API's own health endpoint.
func (c *Client) Health(ctx context.Context) (*models.APIHealth, error) {
	var status models.APIHealth
	if err := c.do(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// TestConnection calls the health endpoint and reports which endpoint
// answered and how long it took.
func (c *Client) TestConnection(ctx context.Context) (*ConnectionResult, error) {
	resp, err := c.exec.Execute(ctx, router.Request{Method: http.MethodGet, Path: "/health", Header: jsonHeader()})
	if err != nil {
		return nil, err
	}
	if err := apiError(resp); err != nil {
		return nil, err
	}

	result := &ConnectionResult{EndpointID: resp.EndpointID, Latency: resp.Latency}
	if err := resp.DecodeJSON(&result.Health); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	resp, err := c.exec.Execute(ctx, router.Request{
		Method: method,
		Path:   path,
		Header: jsonHeader(),
		Body:   body,
	})
	if err != nil {
		return err
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Str("endpoint", resp.EndpointID).
		Int("status", resp.StatusCode).
		Int("attempts", resp.Attempts).
		Msg("QR API call")

	if err := apiError(resp); err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := resp.DecodeJSON(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func apiError(resp *router.Response) error {
	if resp.OK() {
		return nil
	}

	message := http.StatusText(resp.StatusCode)
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		switch {
		case body.Error != "":
			message = body.Error
		case body.Message != "":
			message = body.Message
		}
	}
	return &APIError{EndpointID: resp.EndpointID, StatusCode: resp.StatusCode, Message: message}
}

func idPath(prefix, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	return prefix + url.PathEscape(id), nil
}

func jsonHeader() http.Header {
	return http.Header{
		"Accept":       []string{"application/json"},
		"Content-Type": []string{"application/json"},
	}
}
