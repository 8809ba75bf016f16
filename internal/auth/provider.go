package auth

import (
	"context"
	"net/http"
)

// Provider applies upstream credentials to an outgoing request. It is called
// once per attempt, so a retried request picks up a refreshed token.
type Provider interface {
	Apply(ctx context.Context, req *http.Request) error
}

// BasicProvider sends HTTP basic credentials. Both fields empty means no
// Authorization header at all.
type BasicProvider struct {
	Username string
	Password string
}

// NewBasicProvider creates a basic credential provider
func NewBasicProvider(username, password string) *BasicProvider {
	return &BasicProvider{Username: username, Password: password}
}

func (p *BasicProvider) Apply(_ context.Context, req *http.Request) error {
	if p.Username == "" && p.Password == "" {
		return nil
	}
	req.SetBasicAuth(p.Username, p.Password)
	return nil
}

// NoAuth sends requests without credentials
type NoAuth struct{}

func (NoAuth) Apply(context.Context, *http.Request) error { return nil }
