package client

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient builds the shared upstream client. insecureTrustAll disables
// certificate verification and is meant for local test systems only.
func NewHTTPClient(timeout time.Duration, insecureTrustAll bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	if insecureTrustAll {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
