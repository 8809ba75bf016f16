// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

// Package debug keeps credentials out of gateway logs.
package debug

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const mask = "***"

// SensitiveKeys are substrings of header, query and field names whose values
// are never logged
var SensitiveKeys = []string{
	"password", "passwd", "pwd", "secret",
	"token", "api_key", "apikey", "api-key",
	"authorization", "auth", "credential",
	"cookie", "sig",
}

// MaskPassword hides a password entirely
func MaskPassword(password string) string {
	if password == "" {
		return ""
	}
	return mask
}

// MaskToken keeps the last 4 characters of tokens longer than 12
func MaskToken(token string) string {
	switch {
	case token == "":
		return ""
	case len(token) <= 12:
		return "****"
	default:
		return "****" + token[len(token)-4:]
	}
}

// MaskURL strips the userinfo password and the values of sensitive query
// parameters. Query options such as $filter are left readable.
func MaskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		// never echo something we could not inspect
		return mask
	}

	if parsed.User != nil {
		if _, hasPass := parsed.User.Password(); hasPass {
			parsed.User = url.UserPassword(parsed.User.Username(), mask)
		}
	}

	if parsed.RawQuery == "" {
		return parsed.String()
	}

	pairs := strings.Split(parsed.RawQuery, "&")
	for i, pair := range pairs {
		key, _, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		name, err := url.QueryUnescape(key)
		if err != nil {
			name = key
		}
		if IsSensitiveKey(name) {
			pairs[i] = key + "=" + mask
		}
	}
	parsed.RawQuery = strings.Join(pairs, "&")

	return parsed.String()
}

// MaskHeader masks a header value. Authorization keeps its scheme.
func MaskHeader(name, value string) string {
	if value == "" {
		return ""
	}

	if strings.EqualFold(name, "Authorization") {
		if scheme, credential, ok := strings.Cut(value, " "); ok {
			return scheme + " " + MaskToken(credential)
		}
		return MaskToken(value)
	}

	if IsSensitiveKey(name) {
		return MaskToken(value)
	}
	return value
}

// MaskHeaders flattens headers for logging, masking sensitive values.
// Multiple values are joined with ", ".
func MaskHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		values := headers[name]
		masked := make([]string, len(values))
		for i, v := range values {
			masked[i] = MaskHeader(name, v)
		}
		out[name] = strings.Join(masked, ", ")
	}
	return out
}

// IsSensitiveKey checks if a key name indicates sensitive data
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sensitive := range SensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
}
