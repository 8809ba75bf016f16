package auth

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// expirySkew makes tokens count as expired slightly early so an in-flight
// request does not carry a token that lapses on the way
const expirySkew = 2 * time.Minute

// CachedToken is an access token and its expiry
type CachedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

func (t CachedToken) valid(now time.Time) bool {
	return t.AccessToken != "" && now.Add(expirySkew).Before(t.ExpiresAt)
}

// TokenCache is an in-memory token store keyed by scope set
type TokenCache struct {
	mu     sync.Mutex
	tokens map[string]CachedToken
	now    func() time.Time
}

// NewTokenCache creates an empty cache
func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[string]CachedToken), now: time.Now}
}

// Get returns a token for scopes that is still valid
func (tc *TokenCache) Get(scopes []string) (CachedToken, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	token, ok := tc.tokens[scopeKey(scopes)]
	if !ok || !token.valid(tc.now()) {
		return CachedToken{}, false
	}
	return token, true
}

// Put stores a token for scopes
func (tc *TokenCache) Put(scopes []string, token CachedToken) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tokens[scopeKey(scopes)] = token
}

// Clear drops every cached token
func (tc *TokenCache) Clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tokens = make(map[string]CachedToken)
}

// scopeKey is order independent
func scopeKey(scopes []string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}
