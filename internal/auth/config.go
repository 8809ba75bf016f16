package auth

import (
	"fmt"
	"strings"
)

// AADConfig holds Azure AD client-credentials settings for upstream calls
type AADConfig struct {
	// TenantID is a tenant GUID or domain (e.g. "contoso.onmicrosoft.com")
	TenantID string

	// ClientID is the application (client) ID from the app registration
	ClientID string

	ClientSecret string

	// Scopes requested for upstream tokens. Empty means "<service host>/.default".
	Scopes []string

	// Authority URL (optional, defaults to the public cloud)
	Authority string
}

// Enabled reports whether any AAD setting was given
func (c *AADConfig) Enabled() bool {
	return c != nil && (c.ClientID != "" || c.ClientSecret != "")
}

// Validate checks that the configuration is complete enough to get a token
func (c *AADConfig) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if !isValidGUID(c.ClientID) {
		return fmt.Errorf("client ID must be a valid GUID")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}
	// client credentials cannot target the multi-tenant endpoints
	switch strings.ToLower(c.TenantID) {
	case "common", "organizations", "consumers":
		if c.Authority == "" {
			return fmt.Errorf("tenant %q cannot be used for client credentials", c.TenantID)
		}
	}
	return nil
}

// GetAuthority returns the authority URL for the tenant
func (c *AADConfig) GetAuthority() string {
	if c.Authority != "" {
		return c.Authority
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s", c.TenantID)
}

// ScopesFor returns the configured scopes, or the default resource scope of
// the service host.
func (c *AADConfig) ScopesFor(serviceURL string) []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return []string{extractBaseURL(serviceURL) + "/.default"}
}

// isValidGUID checks the 8-4-4-4-12 hex format
func isValidGUID(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 5 {
		return false
	}

	expectedLengths := []int{8, 4, 4, 4, 12}
	for i, part := range parts {
		if len(part) != expectedLengths[i] {
			return false
		}
		for _, c := range part {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return false
			}
		}
	}
	return true
}

// extractBaseURL keeps scheme-less host[:port] and forces https
func extractBaseURL(serviceURL string) string {
	url := strings.TrimSpace(serviceURL)
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")

	if idx := strings.Index(url, "/"); idx > 0 {
		url = url[:idx]
	}
	return "https://" + url
}
