package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/zmcp/odata-gateway/internal/client"
	"github.com/zmcp/odata-gateway/internal/constants"
	"github.com/zmcp/odata-gateway/internal/metadata"
	"github.com/zmcp/odata-gateway/internal/models"
)

// ValidationError is a missing or malformed request field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// errorResponse maps an error to its HTTP status and body. Unclassified
// errors get a generic message so internals never reach the caller.
func errorResponse(err error) (int, models.ErrorResponse) {
	var (
		validationErr *ValidationError
		notFoundErr   *metadata.EntityNotFoundError
		parseErr      *metadata.ParseError
		upstreamErr   *client.UpstreamError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, models.ErrorResponse{
			Error:   constants.ErrCodeBadRequest,
			Message: validationErr.Error(),
		}
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound, models.ErrorResponse{
			Error:   constants.ErrCodeEntitySetNotFound,
			Message: notFoundErr.Error(),
		}
	case errors.As(err, &parseErr):
		return http.StatusBadGateway, models.ErrorResponse{
			Error:   constants.ErrCodeMetadataParse,
			Message: parseErr.Error(),
		}
	case errors.As(err, &upstreamErr):
		return http.StatusBadGateway, models.ErrorResponse{
			Error:          constants.ErrCodeUpstream,
			Message:        upstreamErr.Error(),
			UpstreamStatus: upstreamErr.StatusCode,
		}
	case errors.Is(err, client.ErrInvalidResponse):
		return http.StatusBadGateway, models.ErrorResponse{
			Error:   constants.ErrCodeUpstreamInvalid,
			Message: err.Error(),
		}
	case errors.Is(err, client.ErrUnavailable):
		status := http.StatusBadGateway
		if isTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		return status, models.ErrorResponse{
			Error:   constants.ErrCodeUpstreamUnavailable,
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, models.ErrorResponse{
			Error:   constants.ErrCodeInternal,
			Message: "an unexpected error occurred",
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
