package constants

// EDMX element and attribute names. Elements are matched by local name only,
// so the v2 (Microsoft) and v4 (OASIS) namespace URIs both resolve.
const (
	ElemSchema          = "Schema"
	ElemEntityType      = "EntityType"
	ElemEntityContainer = "EntityContainer"
	ElemEntitySet       = "EntitySet"
	ElemProperty        = "Property"

	AttrNamespace  = "Namespace"
	AttrName       = "Name"
	AttrEntityType = "EntityType"
	AttrType       = "Type"
	AttrNullable   = "Nullable"
	AttrMaxLength  = "MaxLength"
)

// JSON envelope keys
const (
	EnvelopeValueV4   = "value"   // {"value": [...]}
	EnvelopeDataV2    = "d"       // {"d": ...}
	EnvelopeResultsV2 = "results" // {"d": {"results": [...]}}

	// WrappedValueKey holds a non-object collection element.
	WrappedValueKey = "value"
)

// HTTP headers
const (
	ContentType   = "Content-Type"
	Accept        = "Accept"
	Authorization = "Authorization"
	UserAgent     = "User-Agent"
	RequestID     = "X-Request-Id"
)

// Content types
const (
	ContentTypeJSON = "application/json"
	ContentTypeXML  = "application/xml"
)

// OData endpoints
const (
	MetadataEndpoint = "$metadata"
)

// Gateway routes
const (
	RouteMetadata = "/api/odata/metadata"
	RouteQuery    = "/api/odata/query"
	RouteHealthz  = "/healthz"
	RouteReadyz   = "/readyz"
	RouteMetrics  = "/metrics"
)

// Error codes returned in gateway error bodies
const (
	ErrCodeBadRequest          = "bad_request"
	ErrCodeEntitySetNotFound   = "entity_set_not_found"
	ErrCodeMetadataParse       = "metadata_parse_failed"
	ErrCodeUpstream            = "upstream_error"
	ErrCodeUpstreamInvalid     = "upstream_invalid_response"
	ErrCodeUpstreamUnavailable = "upstream_unavailable"
	ErrCodeInternal            = "internal_server_error"
	ErrCodeMethodNotAllowed    = "method_not_allowed"
	ErrCodeNotFound            = "not_found"
)

// Default values
const (
	ServiceName            = "odata-gateway"
	DefaultUserAgent       = "OData-Gateway/1.0 (Go)"
	DefaultHTTPAddr        = ":8080"
	DefaultRequestTimeout  = 60              // seconds, covers metadata of large SAP services
	DefaultShutdownTimeout = 10              // seconds
	DefaultMaxResponseSize = 5 * 1024 * 1024 // 5MB
	DefaultMaxRequestBody  = 64 * 1024       // inbound JSON body
	EnvPrefix              = "ODATA_GATEWAY"
)
