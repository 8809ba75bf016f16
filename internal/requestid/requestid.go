// Package requestid generates request IDs and carries them through contexts
package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type ctxKey struct{}

// maxLength bounds IDs accepted from callers
const maxLength = 128

// New returns a random 32-character hex ID
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Sanitize returns a caller-supplied ID if it is usable, otherwise "".
// Only printable ASCII without spaces is kept.
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxLength {
		return ""
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return ""
		}
	}
	return id
}

// WithID stores id in ctx
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the ID stored in ctx, or ""
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
