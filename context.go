package rowguard

import "context"

type contextKey int

const (
	ctxKeyPrincipal contextKey = iota
)

// WithPrincipal returns a context carrying the given principal.
// Use this for standalone mode (without Forge) or after resolving claims.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return p, ok
}
