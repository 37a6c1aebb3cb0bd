package domain

import "context"

// IdentityProvider supplies the currently authenticated user. An absent
// identity must fail with KindUnauthenticated; it is never silently
// substituted with a default.
type IdentityProvider interface {
	CurrentUserID(ctx context.Context) (string, error)
}
