package explain

import "context"

type identityKey struct{}

// WithIdentity attaches the authenticated caller name to ctx. Token budgets
// are accounted per identity.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the caller identity, or "anonymous" when the
// request was not authenticated.
func IdentityFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(identityKey{}).(string); ok && v != "" {
		return v
	}
	return "anonymous"
}
