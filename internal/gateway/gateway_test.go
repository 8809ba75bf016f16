package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-gateway/internal/client"
	"github.com/zmcp/odata-gateway/internal/metrics"
	"github.com/zmcp/odata-gateway/internal/models"
)

const northwindV2 = `<?xml version="1.0" encoding="utf-8" standalone="yes"?>
<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx">
  <edmx:DataServices xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata" m:DataServiceVersion="2.0">
    <Schema Namespace="NorthwindModel" xmlns="http://schemas.microsoft.com/ado/2008/09/edm">
      <EntityType Name="Category">
        <Key><PropertyRef Name="CategoryID"/></Key>
        <Property Name="CategoryID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="CategoryName" Type="Edm.String" Nullable="false" MaxLength="15"/>
        <Property Name="Description" Type="Edm.String" MaxLength="Max"/>
      </EntityType>
      <EntityType Name="Product">
        <Key><PropertyRef Name="ProductID"/></Key>
        <Property Name="ProductID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="ProductName" Type="Edm.String" Nullable="false" MaxLength="40"/>
        <Property Name="UnitPrice" Type="Edm.Decimal" Nullable="true"/>
      </EntityType>
    </Schema>
    <Schema Namespace="ODataWeb.Northwind.Model" xmlns="http://schemas.microsoft.com/ado/2008/09/edm">
      <EntityContainer Name="NorthwindEntities" m:IsDefaultEntityContainer="true">
        <EntitySet Name="Products" EntityType="NorthwindModel.Product"/>
        <EntitySet Name="Categories" EntityType="NorthwindModel.Category"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

// fakeOData is an upstream OData service recording what it received
type fakeOData struct {
	server   *httptest.Server
	requests atomic.Int32
	lastAuth atomic.Value
	lastReq  atomic.Value
	lastURI  atomic.Value
}

func newFakeOData(t *testing.T, handler http.HandlerFunc) *fakeOData {
	t.Helper()
	f := &fakeOData{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		f.lastAuth.Store(r.Header.Get("Authorization"))
		f.lastReq.Store(r.Header.Get("X-Request-Id"))
		f.lastURI.Store(r.URL.RequestURI())
		handler(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func northwindHandler(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/$metadata"):
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(northwindV2))
	case strings.HasSuffix(r.URL.Path, "/Products"):
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"d":{"results":[{"ProductID":1,"ProductName":"Chai"},{"ProductID":2,"ProductName":"Chang"}]}}`))
	case strings.HasSuffix(r.URL.Path, "/People"):
		_, _ = w.Write([]byte(`{"@odata.context":"$metadata#People","value":[{"UserName":"russellwhyte"}]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"","message":{"lang":"en-US","value":"Resource not found for the segment."}}}`))
	}
}

type gatewayHarness struct {
	handler http.Handler
	metrics *metrics.Metrics
	server  *Server
}

func newHarness(t *testing.T, opts ServiceOptions) *gatewayHarness {
	t.Helper()
	if opts.Retry == nil {
		retry := client.DefaultRetryConfig()
		retry.MaxRetries = 0
		opts.Retry = retry
	}
	m := metrics.New()
	opts.Metrics = m
	opts.Logger = zerolog.Nop()
	srv := NewServer(NewService(opts), m, zerolog.Nop())
	return &gatewayHarness{handler: srv.Handler(), metrics: m, server: srv}
}

func (h *gatewayHarness) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func connection(url string) models.ConnectionRequest {
	return models.ConnectionRequest{URL: url, Username: "alice", Password: "s3cret"}
}

func TestMetadataEndpoint(t *testing.T) {
	upstream := newFakeOData(t, northwindHandler)
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodPost, "/api/odata/metadata", connection(upstream.server.URL+"/V2/Northwind/Northwind.svc"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	// keys keep EntitySet declaration order
	assert.JSONEq(t, `{
		"Products": [
			{"name":"ProductID","type":"Edm.Int32","maxLength":null},
			{"name":"ProductName","type":"Edm.String","maxLength":40}
		],
		"Categories": [
			{"name":"CategoryID","type":"Edm.Int32","maxLength":null},
			{"name":"CategoryName","type":"Edm.String","maxLength":15}
		]
	}`, rec.Body.String())
	assert.Less(t, strings.Index(rec.Body.String(), "Products"), strings.Index(rec.Body.String(), "Categories"))

	assert.Equal(t, "/V2/Northwind/Northwind.svc/$metadata", upstream.lastURI.Load())
	assert.True(t, strings.HasPrefix(upstream.lastAuth.Load().(string), "Basic "))
}

func TestMetadataEndpointNarrowed(t *testing.T) {
	upstream := newFakeOData(t, northwindHandler)
	h := newHarness(t, ServiceOptions{})

	req := connection(upstream.server.URL)
	req.EntitySet = "  categories "
	rec := h.do(t, http.MethodPost, "/api/odata/metadata", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out map[string][]models.PropertyInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Len(t, out["Categories"], 2)
}

func TestMetadataEndpointEntitySetNotFound(t *testing.T) {
	upstream := newFakeOData(t, northwindHandler)
	h := newHarness(t, ServiceOptions{})

	req := connection(upstream.server.URL)
	req.EntitySet = "Orders"
	rec := h.do(t, http.MethodPost, "/api/odata/metadata", req, "X-Request-Id", "trace-123")

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "entity_set_not_found", body.Error)
	assert.Equal(t, "entity set not found: Orders", body.Message)
	assert.Equal(t, "trace-123", body.RequestID)
	assert.Equal(t, "trace-123", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "trace-123", upstream.lastReq.Load())
}

func TestMetadataEndpointMalformedXML(t *testing.T) {
	upstream := newFakeOData(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<edmx:Edmx><Schema>`))
	})
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodPost, "/api/odata/metadata", connection(upstream.server.URL))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "metadata_parse_failed", body.Error)
	assert.Contains(t, body.Message, "failed to parse metadata XML")
}

func TestMetadataEndpointUpstreamUnauthorized(t *testing.T) {
	upstream := newFakeOData(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("Logon failed"))
	})
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodPost, "/api/odata/metadata", connection(upstream.server.URL))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "upstream_error", body.Error)
	assert.Equal(t, http.StatusUnauthorized, body.UpstreamStatus)
	assert.Contains(t, body.Message, "Logon failed")
	assert.NotContains(t, rec.Body.String(), "s3cret")
}

func TestQueryEndpointV2(t *testing.T) {
	upstream := newFakeOData(t, northwindHandler)
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodPost, "/api/odata/query", models.QueryRequest{
		URL:          upstream.server.URL + "/svc/",
		Username:     "alice",
		Password:     "s3cret",
		EntitySet:    "Products",
		QueryOptions: "?$top=2&$select=ProductID,ProductName",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{"ProductID":1,"ProductName":"Chai"},{"ProductID":2,"ProductName":"Chang"}]`, rec.Body.String())
	assert.Equal(t, "/svc/Products?$top=2&$select=ProductID,ProductName", upstream.lastURI.Load())
}

func TestQueryEndpointV4(t *testing.T) {
	upstream := newFakeOData(t, northwindHandler)
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodPost, "/api/odata/query", models.QueryRequest{
		URL: upstream.server.URL, Username: "alice", Password: "s3cret", EntitySet: "People",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{"UserName":"russellwhyte"}]`, rec.Body.String())
}

func TestQueryEndpointUnknownEntitySetUpstream(t *testing.T) {
	upstream := newFakeOData(t, northwindHandler)
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodPost, "/api/odata/query", models.QueryRequest{
		URL: upstream.server.URL, Username: "alice", Password: "s3cret", EntitySet: "Nope",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "upstream_error", body.Error)
	assert.Equal(t, http.StatusNotFound, body.UpstreamStatus)
	assert.Contains(t, body.Message, "Resource not found for the segment.")
}

func TestQueryEndpointInvalidUpstreamJSON(t *testing.T) {
	upstream := newFakeOData(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>SSO login</html>`))
	})
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodPost, "/api/odata/query", models.QueryRequest{
		URL: upstream.server.URL, Username: "alice", Password: "s3cret", EntitySet: "Products",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream_invalid_response", decodeError(t, rec).Error)
}

func TestQueryEndpointUpstreamTimeout(t *testing.T) {
	upstream := newFakeOData(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	h := newHarness(t, ServiceOptions{RequestTimeout: 50 * time.Millisecond})

	rec := h.do(t, http.MethodPost, "/api/odata/query", models.QueryRequest{
		URL: upstream.server.URL, Username: "alice", Password: "s3cret", EntitySet: "Products",
	})
	require.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
	assert.Equal(t, "upstream_unavailable", decodeError(t, rec).Error)
}

func TestMetadataEndpointUpstreamUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	h := newHarness(t, ServiceOptions{})
	rec := h.do(t, http.MethodPost, "/api/odata/metadata", connection("http://"+addr+"/svc"))
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	assert.Equal(t, "upstream_unavailable", decodeError(t, rec).Error)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, ServiceOptions{})

	tests := []struct {
		name    string
		path    string
		body    interface{}
		message string
	}{
		{"empty body", "/api/odata/metadata", nil, "body is required"},
		{"not json", "/api/odata/metadata", "url=x", "body is not valid JSON"},
		{"wrong field type", "/api/odata/query", `{"url": 5}`, "body is not valid JSON"},
		{"missing url", "/api/odata/metadata", models.ConnectionRequest{Username: "a", Password: "b"}, "url must not be blank"},
		{"relative url", "/api/odata/metadata", models.ConnectionRequest{URL: "/svc", Username: "a", Password: "b"}, "url must be an absolute http or https URL"},
		{"ftp url", "/api/odata/metadata", models.ConnectionRequest{URL: "ftp://host/svc", Username: "a", Password: "b"}, "url must be an absolute http or https URL"},
		{"missing username", "/api/odata/metadata", models.ConnectionRequest{URL: "https://host/svc", Password: "b"}, "username must not be blank"},
		{"blank password", "/api/odata/metadata", models.ConnectionRequest{URL: "https://host/svc", Username: "a", Password: "  "}, "password must not be blank"},
		{"missing entity set", "/api/odata/query", models.QueryRequest{URL: "https://host/svc", Username: "a", Password: "b"}, "entitySet must not be blank"},
		{"oversized body", "/api/odata/metadata", `{"url":"` + strings.Repeat("a", 70*1024) + `"}`, "body exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decodeError(t, rec)
			assert.Equal(t, "bad_request", body.Error)
			assert.Contains(t, body.Message, tt.message)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

type staticBearer string

func (s staticBearer) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+string(s))
	return nil
}

func TestGatewayAuthMakesCredentialsOptional(t *testing.T) {
	upstream := newFakeOData(t, northwindHandler)
	h := newHarness(t, ServiceOptions{Auth: staticBearer("aad-token")})

	rec := h.do(t, http.MethodPost, "/api/odata/query", models.QueryRequest{
		URL: upstream.server.URL, EntitySet: "People", Username: "ignored", Password: "ignored",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Bearer aad-token", upstream.lastAuth.Load())

	rec = h.do(t, http.MethodPost, "/api/odata/metadata", models.ConnectionRequest{URL: upstream.server.URL})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodGet, "/api/odata/metadata", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
	assert.Equal(t, "method_not_allowed", decodeError(t, rec).Error)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodGet, "/api/odata/batch", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Error)
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"service":"odata-gateway","status":"ok"}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"service":"odata-gateway","status":"ready"}`, rec.Body.String())

	h.server.ready.Store(false)
	rec = h.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"service":"odata-gateway","status":"not_ready"}`, rec.Body.String())
}

func TestGeneratedRequestID(t *testing.T) {
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodGet, "/healthz", nil, "X-Request-Id", "bad id with spaces")
	id := rec.Header().Get("X-Request-Id")
	assert.Len(t, id, 32)
}

func TestMetricsEndpoint(t *testing.T) {
	upstream := newFakeOData(t, northwindHandler)
	h := newHarness(t, ServiceOptions{})

	rec := h.do(t, http.MethodPost, "/api/odata/metadata", connection(upstream.server.URL))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `odata_gateway_http_requests_total{method="POST",route="/api/odata/metadata",status="200"} 1`)
	assert.Contains(t, out, `odata_gateway_upstream_requests_total{operation="metadata",status="200"} 1`)
	assert.Contains(t, out, "odata_gateway_metadata_entity_sets_count 1")
}

func TestRecoverMiddleware(t *testing.T) {
	handler := recoverMiddleware(zerolog.Nop(), requestIDMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "internal_server_error", body.Error)
	assert.Equal(t, "req-9", body.RequestID)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestServeGracefulShutdown(t *testing.T) {
	h := newHarness(t, ServiceOptions{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.server.Serve(ctx, ln, time.Second) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.False(t, h.server.ready.Load())
}

func TestRunRequiresAddr(t *testing.T) {
	h := newHarness(t, ServiceOptions{})
	err := h.server.Run(context.Background(), ServerConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "addr is required")
}
