// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithPrincipal/FromContext for propagating the caller via context

package auth

import (
	"context"
)

// Principal is the authenticated caller of an API request.
type Principal struct {
	ID       string // token subject
	ThreadID string // when set, the only thread this caller may use
}

// CanAccessThread reports whether the principal may read or write threadID.
func (p *Principal) CanAccessThread(threadID string) bool {
	return p.ThreadID == "" || p.ThreadID == threadID
}

type principalKey struct{}

// WithPrincipal returns a new context with the principal attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the principal from the context, returning nil if not present.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
