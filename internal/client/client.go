package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/zmcp/odata-gateway/internal/auth"
	"github.com/zmcp/odata-gateway/internal/constants"
	"github.com/zmcp/odata-gateway/internal/debug"
	"github.com/zmcp/odata-gateway/internal/metadata"
	"github.com/zmcp/odata-gateway/internal/models"
	"github.com/zmcp/odata-gateway/internal/requestid"
)

const (
	opMetadata = "metadata"
	opQuery    = "query"
)

// Observer receives per-attempt upstream measurements
type Observer interface {
	ObserveUpstream(operation string, status int, duration time.Duration)
	ObserveRetry()
}

type nopObserver struct{}

func (nopObserver) ObserveUpstream(string, int, time.Duration) {}
func (nopObserver) ObserveRetry()                              {}

// ODataClient issues read-only requests against one OData service root.
// It is cheap to build; the connection pool lives in the shared http.Client.
type ODataClient struct {
	baseURL         string
	httpClient      *http.Client
	auth            auth.Provider
	retryConfig     *RetryConfig
	maxResponseSize int64
	logger          zerolog.Logger
	observer        Observer
}

// Option configures an ODataClient
type Option func(*ODataClient)

// WithHTTPClient shares a transport across clients
func WithHTTPClient(hc *http.Client) Option {
	return func(c *ODataClient) { c.httpClient = hc }
}

// WithAuth sets the credential provider
func WithAuth(p auth.Provider) Option {
	return func(c *ODataClient) { c.auth = p }
}

// WithBasicAuth is shorthand for WithAuth(auth.NewBasicProvider(...))
func WithBasicAuth(username, password string) Option {
	return WithAuth(auth.NewBasicProvider(username, password))
}

func WithRetryConfig(cfg *RetryConfig) Option {
	return func(c *ODataClient) { c.retryConfig = cfg }
}

// WithMaxResponseSize bounds the bytes read from any upstream body
func WithMaxResponseSize(n int64) Option {
	return func(c *ODataClient) { c.maxResponseSize = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *ODataClient) { c.logger = l }
}

func WithObserver(o Observer) Option {
	return func(c *ODataClient) { c.observer = o }
}

// NewODataClient creates a client for the service root at baseURL. The URL is
// trimmed and gets a trailing slash.
func NewODataClient(baseURL string, opts ...Option) *ODataClient {
	baseURL = strings.TrimSpace(baseURL)
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	c := &ODataClient{
		baseURL:         baseURL,
		httpClient:      NewHTTPClient(time.Duration(constants.DefaultRequestTimeout)*time.Second, false),
		auth:            auth.NoAuth{},
		retryConfig:     DefaultRetryConfig(),
		maxResponseSize: constants.DefaultMaxResponseSize,
		logger:          zerolog.Nop(),
		observer:        nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the normalized service root
func (c *ODataClient) BaseURL() string {
	return c.baseURL
}

// GetMetadataXML fetches the raw $metadata document
func (c *ODataClient) GetMetadataXML(ctx context.Context) (string, error) {
	body, err := c.get(ctx, opMetadata, constants.MetadataEndpoint, constants.ContentTypeXML)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// GetMetadata fetches $metadata and reports required properties per entity set
func (c *ODataClient) GetMetadata(ctx context.Context) (*models.MetadataMap, error) {
	doc, err := c.GetMetadataXML(ctx)
	if err != nil {
		return nil, err
	}
	return metadata.ParseMetadata(doc)
}

// QueryEntitySet reads an entity set with raw query options and returns the
// records whatever envelope the service used
func (c *ODataClient) QueryEntitySet(ctx context.Context, entitySet, queryOptions string) ([]models.Record, error) {
	body, err := c.get(ctx, opQuery, EntitySetPath(entitySet, queryOptions), constants.ContentTypeJSON)
	if err != nil {
		return nil, err
	}

	v, err := DecodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return ExtractRecords(v), nil
}

// EntitySetPath builds "<entitySet>?<options>" relative to the service root.
// Spaces become %20; a leading "?" on the options is accepted. The options
// are otherwise passed through untouched.
func EntitySetPath(entitySet, queryOptions string) string {
	path := strings.ReplaceAll(strings.TrimSpace(entitySet), " ", "%20")

	opts := strings.TrimPrefix(strings.TrimSpace(queryOptions), "?")
	if opts == "" {
		return path
	}
	return path + "?" + strings.ReplaceAll(opts, " ", "%20")
}

// buildRequest creates a GET request with standard headers and credentials
func (c *ODataClient) buildRequest(ctx context.Context, endpoint, accept string) (*http.Request, error) {
	fullURL := c.baseURL + strings.TrimPrefix(endpoint, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(constants.UserAgent, constants.DefaultUserAgent)
	req.Header.Set(constants.Accept, accept)
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(constants.RequestID, id)
	}

	if err := c.auth.Apply(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to authenticate request: %w", err)
	}
	return req, nil
}

// get performs a GET with retry and returns the body of the final response.
// Status >= 400 becomes an *UpstreamError.
func (c *ODataClient) get(ctx context.Context, operation, endpoint, accept string) ([]byte, error) {
	var lastErr error
	var retryAfter http.Header

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			c.observer.ObserveRetry()
			backoff := c.retryConfig.Delay(attempt-1, retryAfter)
			c.logger.Debug().
				Int("attempt", attempt).
				Int("max_retries", c.retryConfig.MaxRetries).
				Dur("backoff", backoff).
				Msg("retrying upstream request")
			if err := sleep(ctx, backoff); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
		}

		req, err := c.buildRequest(ctx, endpoint, accept)
		if err != nil {
			return nil, err
		}

		if attempt == 0 {
			c.logger.Debug().
				Str("method", req.Method).
				Str("url", debug.MaskURL(req.URL.String())).
				Msg("upstream request")
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.observer.ObserveUpstream(operation, 0, time.Since(start))
			lastErr = err
			c.logger.Debug().Err(err).Msg("upstream request failed")
			if ctx.Err() != nil {
				break
			}
			retryAfter = nil
			continue
		}

		body, readErr := c.readBody(resp)
		c.observer.ObserveUpstream(operation, resp.StatusCode, time.Since(start))
		if readErr != nil {
			return nil, readErr
		}

		if c.retryConfig.ShouldRetry(resp.StatusCode, attempt) {
			c.logger.Debug().Int("status", resp.StatusCode).Msg("retryable upstream status")
			retryAfter = resp.Header
			continue
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, parseErrorBody(body, resp.StatusCode)
		}
		return body, nil
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, fmt.Errorf("%w: all %d retries failed: %w", ErrUnavailable, c.retryConfig.MaxRetries, lastErr)
}

// readBody reads at most maxResponseSize bytes and closes the body
func (c *ODataClient) readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	limit := c.maxResponseSize
	if limit <= 0 {
		limit = constants.DefaultMaxResponseSize
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: failed to read response body: %w", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: failed to read response body: %w", ErrInvalidResponse, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrInvalidResponse, limit)
	}
	return body, nil
}
