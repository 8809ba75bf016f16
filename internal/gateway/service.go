// Package gateway exposes OData metadata interpretation and entity-set
// queries over HTTP.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/zmcp/odata-gateway/internal/auth"
	"github.com/zmcp/odata-gateway/internal/client"
	"github.com/zmcp/odata-gateway/internal/constants"
	"github.com/zmcp/odata-gateway/internal/debug"
	"github.com/zmcp/odata-gateway/internal/metadata"
	"github.com/zmcp/odata-gateway/internal/metrics"
	"github.com/zmcp/odata-gateway/internal/models"
)

// ServiceOptions configures a Service. Zero values fall back to defaults.
type ServiceOptions struct {
	HTTPClient *http.Client

	// Auth, when set, authenticates every upstream call and the credentials
	// in request bodies are ignored
	Auth auth.Provider

	Retry           *client.RetryConfig
	MaxResponseSize int64
	RequestTimeout  time.Duration
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
}

// Service runs the two gateway operations. It holds no per-request state and
// is safe for concurrent use.
type Service struct {
	httpClient      *http.Client
	auth            auth.Provider
	retry           *client.RetryConfig
	maxResponseSize int64
	requestTimeout  time.Duration
	logger          zerolog.Logger
	metrics         *metrics.Metrics
}

// NewService creates a Service
func NewService(opts ServiceOptions) *Service {
	s := &Service{
		httpClient:      opts.HTTPClient,
		auth:            opts.Auth,
		retry:           opts.Retry,
		maxResponseSize: opts.MaxResponseSize,
		requestTimeout:  opts.RequestTimeout,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = time.Duration(constants.DefaultRequestTimeout) * time.Second
	}
	if s.httpClient == nil {
		s.httpClient = client.NewHTTPClient(s.requestTimeout, false)
	}
	if s.retry == nil {
		s.retry = client.DefaultRetryConfig()
	}
	if s.maxResponseSize <= 0 {
		s.maxResponseSize = constants.DefaultMaxResponseSize
	}
	return s
}

// UsesGatewayAuth reports whether request-body credentials are ignored
func (s *Service) UsesGatewayAuth() bool {
	return s.auth != nil
}

// FetchMetadata reads the service's $metadata and reports the required
// properties of each entity set, narrowed to req.EntitySet when given
func (s *Service) FetchMetadata(ctx context.Context, req models.ConnectionRequest) (*models.MetadataMap, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	s.logger.Debug().
		Str("url", debug.MaskURL(req.URL)).
		Str("username", req.Username).
		Str("entity_set", req.EntitySet).
		Msg("fetching metadata")

	all, err := s.clientFor(req).GetMetadata(ctx)
	if err != nil {
		return nil, err
	}

	narrowed, err := metadata.NarrowToEntitySet(all, req.EntitySet)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.EntitySetsReported.Observe(float64(narrowed.Len()))
	}
	return narrowed, nil
}

// Query reads an entity set with raw query options and returns its records
func (s *Service) Query(ctx context.Context, req models.QueryRequest) ([]models.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	s.logger.Debug().
		Str("url", debug.MaskURL(req.URL)).
		Str("username", req.Username).
		Str("entity_set", req.EntitySet).
		Str("query_options", req.QueryOptions).
		Msg("querying entity set")

	records, err := s.clientFor(req.Connection()).QueryEntitySet(ctx, req.EntitySet, req.QueryOptions)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordsReturned.Observe(float64(len(records)))
	}
	return records, nil
}

func (s *Service) clientFor(req models.ConnectionRequest) *client.ODataClient {
	provider := s.auth
	if provider == nil {
		provider = auth.NewBasicProvider(req.Username, req.Password)
	}

	opts := []client.Option{
		client.WithHTTPClient(s.httpClient),
		client.WithAuth(provider),
		client.WithRetryConfig(s.retry),
		client.WithMaxResponseSize(s.maxResponseSize),
		client.WithLogger(s.logger),
	}
	if s.metrics != nil {
		opts = append(opts, client.WithObserver(s.metrics))
	}
	return client.NewODataClient(req.URL, opts...)
}
