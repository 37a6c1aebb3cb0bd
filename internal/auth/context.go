package auth

import (
	"context"

	"example.com/walks/internal/domain"
)

type contextKey string

const claimsKey contextKey = "walks-auth-claims"

// WithClaims stores claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// FromContext retrieves claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// ContextIdentity resolves the current user from request-scoped claims. It is
// the domain.IdentityProvider used in front of the tracker and sync engine.
type ContextIdentity struct{}

// CurrentUserID returns the authenticated subject, or KindUnauthenticated
// when no claims are present.
func (ContextIdentity) CurrentUserID(ctx context.Context) (string, error) {
	claims, ok := FromContext(ctx)
	if !ok || claims.Subject == "" {
		return "", domain.ErrUnauthenticated
	}
	return claims.Subject, nil
}
