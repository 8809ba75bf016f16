package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zmcp/odata-gateway/internal/constants"
	"github.com/zmcp/odata-gateway/internal/models"
	"github.com/zmcp/odata-gateway/internal/requestid"
)

// Handlers serves the gateway API
type Handlers struct {
	service *Service
	logger  zerolog.Logger
}

// NewHandlers creates the API handlers for service
func NewHandlers(service *Service, logger zerolog.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// Metadata handles POST /api/odata/metadata
func (h *Handlers) Metadata(w http.ResponseWriter, r *http.Request) {
	var req models.ConnectionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validateConnection(req, !h.service.UsesGatewayAuth()); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.service.FetchMetadata(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Query handles POST /api/odata/query
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validateConnection(req.Connection(), !h.service.UsesGatewayAuth()); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.EntitySet) == "" {
		h.writeError(w, r, &ValidationError{Field: "entitySet", Reason: "must not be blank"})
		return
	}

	records, err := h.service.Query(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// MethodNotAllowed answers any method other than allowed with a JSON 405
func MethodNotAllowed(allowed string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allowed)
		writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{
			Error:     constants.ErrCodeMethodNotAllowed,
			Message:   fmt.Sprintf("method %s not allowed, use %s", r.Method, allowed),
			RequestID: requestid.FromContext(r.Context()),
		})
	}
}

// NotFound answers unknown routes with a JSON 404
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, models.ErrorResponse{
		Error:     constants.ErrCodeNotFound,
		Message:   fmt.Sprintf("no route for %s", r.URL.Path),
		RequestID: requestid.FromContext(r.Context()),
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	body.RequestID = requestid.FromContext(r.Context())

	event := h.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = h.logger.Error()
	}
	event.Err(err).
		Str("request_id", body.RequestID).
		Int("status", status).
		Str("error_code", body.Error).
		Msg("request failed")

	writeJSON(w, status, body)
}

// decodeBody reads one JSON object from a size-limited body. Unknown fields
// are ignored.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return &ValidationError{Field: "body", Reason: "is required"}
	}
	body := http.MaxBytesReader(w, r.Body, constants.DefaultMaxRequestBody)

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return &ValidationError{Field: "body", Reason: "is required"}
		case errors.As(err, &maxErr):
			return &ValidationError{Field: "body", Reason: fmt.Sprintf("exceeds %d bytes", maxErr.Limit)}
		default:
			return &ValidationError{Field: "body", Reason: "is not valid JSON: " + err.Error()}
		}
	}
	return nil
}

// validateConnection checks the service URL and, unless the gateway supplies
// its own credentials, the basic-auth fields
func validateConnection(req models.ConnectionRequest, requireCredentials bool) error {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return &ValidationError{Field: "url", Reason: "must not be blank"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be an absolute http or https URL"}
	}

	if requireCredentials {
		if strings.TrimSpace(req.Username) == "" {
			return &ValidationError{Field: "username", Reason: "must not be blank"}
		}
		if strings.TrimSpace(req.Password) == "" {
			return &ValidationError{Field: "password", Reason: "must not be blank"}
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(constants.ContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}
