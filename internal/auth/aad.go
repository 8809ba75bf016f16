package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/confidential"
	"github.com/rs/zerolog"
)

// tokenSource acquires a fresh token for scopes
type tokenSource func(ctx context.Context, scopes []string) (CachedToken, error)

// AADProvider authenticates upstream requests with an Azure AD bearer token
// obtained through the client-credentials flow
type AADProvider struct {
	config  *AADConfig
	cache   *TokenCache
	acquire tokenSource
	logger  zerolog.Logger
}

// NewAADProvider creates a provider backed by an MSAL confidential client
func NewAADProvider(cfg *AADConfig, logger zerolog.Logger) (*AADProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AAD configuration: %w", err)
	}

	cred, err := confidential.NewCredFromSecret(cfg.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create AAD credential: %w", err)
	}

	client, err := confidential.New(cfg.GetAuthority(), cfg.ClientID, cred)
	if err != nil {
		return nil, fmt.Errorf("failed to create MSAL client: %w", err)
	}

	acquire := func(ctx context.Context, scopes []string) (CachedToken, error) {
		result, err := client.AcquireTokenSilent(ctx, scopes)
		if err != nil {
			result, err = client.AcquireTokenByCredential(ctx, scopes)
			if err != nil {
				return CachedToken{}, err
			}
		}
		return CachedToken{AccessToken: result.AccessToken, ExpiresAt: result.ExpiresOn}, nil
	}

	return newAADProvider(cfg, acquire, logger), nil
}

func newAADProvider(cfg *AADConfig, acquire tokenSource, logger zerolog.Logger) *AADProvider {
	return &AADProvider{
		config:  cfg,
		cache:   NewTokenCache(),
		acquire: acquire,
		logger:  logger.With().Str("component", "aad").Logger(),
	}
}

// Token returns a cached token for scopes or acquires a new one
func (a *AADProvider) Token(ctx context.Context, scopes []string) (string, error) {
	if cached, ok := a.cache.Get(scopes); ok {
		return cached.AccessToken, nil
	}

	token, err := a.acquire(ctx, scopes)
	if err != nil {
		return "", fmt.Errorf("failed to acquire AAD token: %w", err)
	}
	a.cache.Put(scopes, token)

	a.logger.Debug().
		Strs("scopes", scopes).
		Time("expires_at", token.ExpiresAt).
		Msg("acquired AAD token")
	return token.AccessToken, nil
}

func (a *AADProvider) Apply(ctx context.Context, req *http.Request) error {
	token, err := a.Token(ctx, a.config.ScopesFor(req.URL.String()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// ClearCache forgets every cached token
func (a *AADProvider) ClearCache() {
	a.cache.Clear()
}
