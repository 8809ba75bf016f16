package client

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable wraps transport failures: DNS, refused connections,
	// timeouts and exhausted retries.
	ErrUnavailable = errors.New("OData service unavailable")

	// ErrInvalidResponse wraps bodies that are too large or cannot be decoded.
	ErrInvalidResponse = errors.New("invalid response from OData service")
)

// UpstreamError is an HTTP status >= 400 returned by the OData service
type UpstreamError struct {
	StatusCode int
	Code       string // OData error code, if the body carried one
	Message    string
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("OData service returned HTTP %d", e.StatusCode)
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}
